package permissions

import "context"

// ExistenceValidator grants access to every document that exists.
type ExistenceValidator struct {
	docs DocumentLookup
}

func NewExistenceValidator(docs DocumentLookup) *ExistenceValidator {
	return &ExistenceValidator{docs: docs}
}

func (v *ExistenceValidator) Validate(ctx context.Context, userID, documentID string) (bool, error) {
	if _, err := v.docs.GetDocument(ctx, documentID); err != nil {
		return false, err
	}
	return true, nil
}
