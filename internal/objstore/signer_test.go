package objstore_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menulens/api/internal/objstore"
)

func TestUploadSigner_Roundtrip(t *testing.T) {
	s := objstore.NewUploadSigner("test-secret")

	token, err := s.Sign("uploads/abc.jpg", time.Minute)
	require.NoError(t, err)

	key, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "uploads/abc.jpg", key)
}

func TestUploadSigner_Expired(t *testing.T) {
	s := objstore.NewUploadSigner("test-secret")

	token, err := s.Sign("uploads/abc.jpg", -time.Second)
	require.NoError(t, err)

	_, err = s.Verify(token)
	assert.Error(t, err)
}

func TestUploadSigner_WrongSecret(t *testing.T) {
	token, err := objstore.NewUploadSigner("secret-a").Sign("uploads/abc.jpg", time.Minute)
	require.NoError(t, err)

	_, err = objstore.NewUploadSigner("secret-b").Verify(token)
	assert.Error(t, err)
}

func TestUploadSigner_Garbage(t *testing.T) {
	s := objstore.NewUploadSigner("test-secret")

	_, err := s.Verify("not-a-token")
	assert.Error(t, err)
}

func TestUploadSigner_EmptyKeyRejected(t *testing.T) {
	s := objstore.NewUploadSigner("test-secret")

	token, err := s.Sign("", time.Minute)
	require.NoError(t, err)

	_, err = s.Verify(token)
	assert.Error(t, err)
}
