package scan

import (
	"fmt"

	"github.com/menulens/api/pkg/models"
)

// Status messages shown in the client progress UI, one per pipeline phase.
// The fallback banner is formatted with the substitute model's name.
const (
	msgExtracting = "主廚正在解讀手寫字..."
	msgReusing    = "主廚正在辨識菜名..."
	msgEnriching  = "主廚正在翻譯未知菜色..."
	msgImproving  = "主廚正在補充菜色細節..."
	msgFinalizing = "主廚正在繪製招牌菜插畫..."
	msgFallback   = "主模型暫不可用，改用 %s 辨識..."
)

// User-facing error messages, matched to error codes.
const (
	msgErrNotMenu    = "這張照片看起來不是菜單，請重新拍攝"
	msgErrTooBlurry  = "照片太模糊，請靠近一點重新拍攝"
	msgErrVLMTimeout = "解析逾時：請稍後重試或換一張更清晰的照片"
	msgErrVLMFailed  = "解析失敗：請確認圖片清晰且為菜單"
	msgErrImageFetch = "無法讀取上傳的照片，請重新上傳"
	msgErrInternal   = "系統發生錯誤，請稍後再試"
)

// Coarse progress percentages reported with each phase's status event.
const (
	progressExtracting = 5
	progressReusing    = 25
	progressEnriching  = 55
	progressImproving  = 70
	progressFinalizing = 85
)

const imagePromptTemplate = "Japanese watercolor illustration, hand-drawn style, warm atmosphere, studio ghibli food style, white background. Dish: %s."

// imagePrompt renders the illustration prompt for one dish.
func imagePrompt(dishName string) string {
	return fmt.Sprintf(imagePromptTemplate, dishName)
}

// FailurePayload builds the error event payload for failures raised outside
// the model pipeline, such as the uploaded image going missing.
func FailurePayload(code string) models.ErrorPayload {
	switch code {
	case models.ErrCodeImageFetchFailed:
		return models.ErrorPayload{Code: code, Message: msgErrImageFetch, Recoverable: true}
	case models.ErrCodeVLMTimeout:
		return models.ErrorPayload{Code: code, Message: msgErrVLMTimeout, Recoverable: true}
	default:
		return models.ErrorPayload{Code: code, Message: msgErrInternal, Recoverable: true}
	}
}
