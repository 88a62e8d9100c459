package gemini

import (
	"encoding/json"
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/menulens/api/pkg/models"
)

const extractPrompt = `You are reading a photo of a restaurant menu.

List every dish name exactly as printed, one entry per dish, in reading
order. Keep the original script. Do not translate, deduplicate or invent
entries. Skip prices, portion sizes, section headings and decorations.

If the photo is not a menu, return an empty list and set "reject_reason"
to "not_menu". If it is a menu but too blurry to read, return an empty
list and set "reject_reason" to "too_blurry". Omit "reject_reason"
otherwise.

Respond with JSON only, no markdown fences:
{"dish_strings": ["..."]}`

const translatePromptTemplate = `Translate the following restaurant dishes into %s for a traveler
who cannot read the menu.

For each dish return:
- "dish_key" and "original_name": echoed unchanged from the input
- "translated_name": the dish name in %s
- "description": one short appetizing sentence, at most 20 words
- "tags": up to 3 short attributes (main ingredient, cooking style, spiciness)
- "romanji": the romaji reading for Japanese dish names, otherwise ""
- "is_top3": true for at most 3 dishes you would recommend first

If a dish name is unrecognizable, still echo it and leave
"translated_name" empty.

Input dishes:
%s

Respond with JSON only, no markdown fences:
{"menu_items": [{...}]}`

func translatePrompt(lang string, dishes []models.DishRef) string {
	input, _ := json.Marshal(dishes)
	name := languageName(lang)
	return fmt.Sprintf(translatePromptTemplate, name, name, input)
}

// languageName renders a BCP-47 tag as an English name the model follows
// reliably. zh-TW is special-cased: display renders it "Chinese (Taiwan)",
// which models sometimes read as simplified.
func languageName(tag string) string {
	if tag == "zh-TW" {
		return "Traditional Chinese (zh-TW)"
	}
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	return display.English.Tags().Name(t)
}
