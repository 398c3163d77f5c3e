package provider

// Extractor pulls a video URL out of one known output shape.
type Extractor struct {
	Name string
	Func func(output any) string
}

// Extractors are tried in order until one yields a non-empty URL. New output
// shapes go at the end so existing ones keep their precedence.
var Extractors = []Extractor{
	{Name: "flat", Func: func(o any) string { return urlField(o) }},
	{Name: "video", Func: func(o any) string { return urlField(field(o, "video")) }},
	{Name: "result", Func: func(o any) string { return urlField(field(o, "result")) }},
	{Name: "array", Func: firstOfArray},
	{Name: "string", Func: func(o any) string { s, _ := o.(string); return s }},
}

// ExtractVideoURL returns the first URL any extractor finds, and the name of
// the extractor that found it.
func ExtractVideoURL(output any) (string, string, error) {
	for _, e := range Extractors {
		if u := e.Func(output); u != "" {
			return u, e.Name, nil
		}
	}
	return "", "", ErrNoVideoURL
}

func field(o any, key string) any {
	m, ok := o.(map[string]any)
	if !ok {
		return nil
	}
	return m[key]
}

func urlField(o any) string {
	m, ok := o.(map[string]any)
	if !ok {
		return ""
	}
	return firstString(m, "url", "video_url", "videoUrl")
}

func firstOfArray(o any) string {
	items, ok := o.([]any)
	if !ok {
		return ""
	}
	for _, it := range items {
		switch v := it.(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if u := urlField(v); u != "" {
				return u
			}
		}
	}
	return ""
}
