package service

import (
	"errors"
	"regexp"

	"github.com/inkdeck/inkdeck/models"
)

var pageIdRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

func ValidatePageId(pageId string) error {
	if pageId == "" {
		return errors.New("pageId is required")
	}
	if !pageIdRegex.MatchString(pageId) {
		return errors.New("invalid pageId format")
	}
	return nil
}

func ValidateBoardId(boardId string) error {
	if boardId == "" {
		return errors.New("boardId is required")
	}
	if !pageIdRegex.MatchString(boardId) {
		return errors.New("invalid boardId format")
	}
	return nil
}

const maxStrokeBytes = 64 * 1024

// ValidateOperation checks a stroke operation's shape before relay.
// Stroke content itself stays opaque; only envelope fields are enforced.
func ValidateOperation(op models.StrokeOperation) error {
	if err := ValidatePageId(op.PageId); err != nil {
		return err
	}

	switch op.Type {
	case models.OpAdd, models.OpUpdate:
		if len(op.Stroke) == 0 {
			return errors.New("stroke is required for add/update")
		}
		if len(op.Stroke) > maxStrokeBytes {
			return errors.New("stroke too large")
		}
	case models.OpDelete:
		if op.StrokeId == "" {
			return errors.New("strokeId is required for delete")
		}
	case models.OpClear:
		// no extra fields
	default:
		return errors.New("invalid operation type")
	}

	return nil
}
