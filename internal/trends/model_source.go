package trends

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/realtime-booklist/internal/genai"
	"github.com/JakeFAU/realtime-booklist/internal/jsonx"
)

// TrendPrompt asks the model for the current top-30 book list as a JSON array.
const TrendPrompt = `返回当前热度排名前30的书单。只返回 JSON 数组格式：[{"title": "书名"}]`

// ModelSource asks a generative model for ranked subjects.
type ModelSource struct {
	model  genai.Model
	prompt string
}

// NewModelSource builds a ModelSource using TrendPrompt.
func NewModelSource(model genai.Model) *ModelSource {
	return &ModelSource{model: model, prompt: TrendPrompt}
}

// Candidates implements Source. Unparseable output yields no candidates and
// no error.
func (s *ModelSource) Candidates(ctx context.Context) ([]string, error) {
	if s.model == nil {
		return nil, errors.New("trend model is not configured")
	}
	text, err := s.model.Generate(ctx, genai.Request{User: s.prompt})
	if err != nil {
		return nil, fmt.Errorf("generate trends: %w", err)
	}
	res := jsonx.Extract(text)
	if !res.IsOk() {
		return nil, nil
	}
	return titles(gjson.ParseBytes(res.Value)), nil
}

// titles reads [{"title":..}], ["..."] or an object wrapping either.
func titles(v gjson.Result) []string {
	if v.IsObject() {
		var inner gjson.Result
		v.ForEach(func(_, val gjson.Result) bool {
			if val.IsArray() {
				inner = val
				return false
			}
			return true
		})
		if !inner.Exists() {
			if t := v.Get("title"); t.Type == gjson.String {
				return []string{t.String()}
			}
			return nil
		}
		v = inner
	}
	if !v.IsArray() {
		return nil
	}
	var out []string
	v.ForEach(func(_, item gjson.Result) bool {
		switch {
		case item.Type == gjson.String:
			out = append(out, item.String())
		case item.IsObject():
			if t := item.Get("title"); t.Type == gjson.String {
				out = append(out, t.String())
			}
		}
		return true
	})
	return out
}
