package session

// LocaleText holds the user-visible strings of a challenge.
type LocaleText struct {
	Title         string `json:"title,omitempty" yaml:"title"`
	Description   string `json:"desc,omitempty" yaml:"desc"`
	Hint          string `json:"hint,omitempty" yaml:"hint"`
	Success       string `json:"success,omitempty" yaml:"success"`
	NotRecognized string `json:"notrecognized,omitempty" yaml:"notrecognized"`
	Cancel        string `json:"cancel,omitempty" yaml:"cancel"`
	TooManyTries  string `json:"toomanytries,omitempty" yaml:"toomanytries"`
}

// DefaultLocale returns the built-in Korean strings.
func DefaultLocale() LocaleText {
	return LocaleText{
		Title:         "타이틀",
		Description:   "설명",
		Hint:          "지문",
		Success:       "인식성공",
		NotRecognized: "인식실패",
		Cancel:        "취소",
		TooManyTries:  "연속으로 지문 인증을 실패하였습니다. 잠시 후 다시 이용해 주시기 바랍니다",
	}
}

// Merge returns l with every empty field taken from fallback.
func (l LocaleText) Merge(fallback LocaleText) LocaleText {
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return LocaleText{
		Title:         pick(l.Title, fallback.Title),
		Description:   pick(l.Description, fallback.Description),
		Hint:          pick(l.Hint, fallback.Hint),
		Success:       pick(l.Success, fallback.Success),
		NotRecognized: pick(l.NotRecognized, fallback.NotRecognized),
		Cancel:        pick(l.Cancel, fallback.Cancel),
		TooManyTries:  pick(l.TooManyTries, fallback.TooManyTries),
	}
}
