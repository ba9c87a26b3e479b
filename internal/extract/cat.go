package extract

import (
	"fmt"

	"github.com/lu4p/cat"
)

// extractCat reads OpenDocument text and RTF through lu4p/cat, which sniffs the format itself.
func extractCat(content []byte) (string, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return text, nil
}
