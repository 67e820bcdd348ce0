package permissions

import (
	"context"
	"strings"
)

// PermissionService grants users access to documents by issuing agency.
// A grant of "*" covers every agency.
type PermissionService struct {
	docs            DocumentLookup
	userPermissions map[string][]string
}

func NewPermissionService(docs DocumentLookup, grants map[string][]string) *PermissionService {
	ps := &PermissionService{
		docs:            docs,
		userPermissions: make(map[string][]string, len(grants)),
	}
	for user, agencies := range grants {
		ps.userPermissions[strings.ToLower(user)] = append([]string(nil), agencies...)
	}
	return ps
}

func (ps *PermissionService) Validate(ctx context.Context, userID, documentID string) (bool, error) {
	doc, err := ps.docs.GetDocument(ctx, documentID)
	if err != nil {
		return false, err
	}

	for _, perm := range ps.GetUserPermissions(userID) {
		if perm == "*" || strings.EqualFold(doc.AgencyID, perm) {
			return true, nil
		}
	}
	return false, nil
}

func (ps *PermissionService) GetUserPermissions(username string) []string {
	if perms, exists := ps.userPermissions[strings.ToLower(username)]; exists {
		return append([]string(nil), perms...)
	}
	return []string{}
}
