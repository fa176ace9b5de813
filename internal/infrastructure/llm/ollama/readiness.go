package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/policy-rag/internal/core/domain"
)

// Ready checks that the generation model is pulled. A model configured
// without a tag matches any tag of that name.
func (c *Client) Ready(ctx context.Context) error {
	var response struct {
		Models []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"models"`
	}
	if err := c.getJSON(ctx, "/api/tags", &response, "tags"); err != nil {
		return domain.WrapError(domain.ErrNotReady, "ollama tags", err)
	}
	for _, m := range response.Models {
		for _, name := range []string{m.Name, m.Model} {
			if modelMatches(c.genModel, name) {
				return nil
			}
		}
	}
	return domain.WrapError(domain.ErrNotReady, "ollama tags", fmt.Errorf("model %q not found", c.genModel))
}

func modelMatches(want, have string) bool {
	if want == "" || have == "" {
		return false
	}
	if want == have {
		return true
	}
	if !strings.Contains(want, ":") {
		return strings.HasPrefix(have, want+":")
	}
	return false
}
