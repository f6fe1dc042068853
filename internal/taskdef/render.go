package taskdef

import (
	"fmt"
	"strings"
)

const (
	placeholderAccountID = "{{ACCOUNT_ID}}"
	placeholderRegion    = "{{REGION}}"
	placeholderImageTag  = "{{IMAGE_TAG}}"
)

// Vars are the substitution values for one render.
type Vars struct {
	AccountID string
	Region    string
	ImageTag  string
}

// Render substitutes the fixed placeholders into a task-definition template.
// The substitution is purely textual: identical inputs always yield an
// identical body. Any placeholder left unresolved after substitution is an
// error rather than something the control plane gets to reject later.
func Render(template []byte, vars Vars) ([]byte, error) {
	if vars.AccountID == "" {
		return nil, fmt.Errorf("render task definition: account ID is required")
	}
	if vars.Region == "" {
		return nil, fmt.Errorf("render task definition: region is required")
	}
	if vars.ImageTag == "" {
		return nil, fmt.Errorf("render task definition: image tag is required")
	}

	body := string(template)
	body = strings.ReplaceAll(body, placeholderAccountID, vars.AccountID)
	body = strings.ReplaceAll(body, placeholderRegion, vars.Region)
	body = strings.ReplaceAll(body, placeholderImageTag, vars.ImageTag)

	if idx := strings.Index(body, "{{"); idx >= 0 {
		end := strings.Index(body[idx:], "}}")
		if end < 0 {
			end = len(body) - idx
		} else {
			end += 2
		}
		return nil, fmt.Errorf("render task definition: unresolved placeholder %s", body[idx:idx+end])
	}

	return []byte(body), nil
}
