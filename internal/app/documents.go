package app

import (
	"context"
	"io"
	"net/http"
	"strings"

	"kilnguard/api/internal/blob"
	"kilnguard/api/internal/identity"
	"kilnguard/api/internal/rbac"
	"kilnguard/api/internal/search"
)

// StoreDocument uploads one permit document and returns the reference the
// operator attaches to a permission request.
func (s *Service) StoreDocument(ctx context.Context, caller identity.Account, kind, filename, contentType string, r io.Reader, size int64) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionUploadDocument); err != nil {
		return nil, err
	}
	if s.documents == nil {
		return nil, domainError(http.StatusServiceUnavailable, KindUnavailable, "DOCUMENTS_UNAVAILABLE", "Document storage is not configured", nil)
	}
	kind = strings.TrimSpace(kind)
	if _, ok := blob.DocumentKinds[kind]; !ok {
		return nil, validationError("kind must be one of id_document, land_certificate, coop_certificate, tree_age_proof")
	}
	if size <= 0 || size > blob.MaxDocumentSize {
		return nil, validationError("file must be between 1 byte and 10 MB")
	}
	ref, err := s.documents.Put(ctx, caller.ID(), kind, filename, contentType, r, size)
	if err != nil {
		return nil, err
	}
	return map[string]any{"kind": kind, "reference": ref}, nil
}

// Search runs a full-text query. Approvers only see records routed to them.
func (s *Service) Search(ctx context.Context, caller identity.Account, text, filterType string, limit, offset int) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionSearch); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, validationError("q is required")
	}
	switch search.ResultType(filterType) {
	case "", search.ResultPermission, search.ResultAlert:
	default:
		return nil, validationError("type must be permission or alert")
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query := search.Query{Text: text, FilterType: search.ResultType(filterType), Limit: limit, Offset: offset}
	if caller.Role() == rbac.RoleApprover {
		query.LeaderID = caller.ID()
	}
	if s.search == nil {
		return map[string]any{"results": []search.Result{}, "total": 0, "query": text}, nil
	}
	resp := s.search.Search(query)
	return map[string]any{"results": resp.Results, "total": resp.Total, "query": resp.Query}, nil
}
