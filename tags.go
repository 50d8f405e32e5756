package main

import (
	"context"

	"github.com/orian/configdesk/models"
)

// History returns every version of id, newest first. Versions committed at
// the same instant are ordered by tag, then by version number.
func (r *DocumentRepository) History(ctx context.Context, id string) ([]models.Document, error) {
	return r.HistoryFind(ctx, models.Eq(models.FieldID, id),
		models.Desc(models.FieldLastModify),
		models.Asc(models.FieldTag),
		models.Asc(models.FieldNVer),
	)
}

// VersionsByNumber returns the versions of id numbered nVer.
//
// Version numbers are unique per id, so at most one document is returned.
func (r *DocumentRepository) VersionsByNumber(ctx context.Context, id string, nVer int64) ([]models.Document, error) {
	return r.HistoryFind(ctx,
		models.And(models.Eq(models.FieldID, id), models.Eq(models.FieldNVer, nVer)),
		models.Desc(models.FieldLastModify),
		models.Asc(models.FieldNVer),
	)
}

// VersionsByTag returns the versions of id carrying tag, newest first.
//
// The tag is matched case-insensitively: "draft" finds versions tagged
// "DRAFT". Tags are not unique, so several versions may be returned.
func (r *DocumentRepository) VersionsByTag(ctx context.Context, id, tag string) ([]models.Document, error) {
	return r.HistoryFind(ctx,
		models.And(models.Eq(models.FieldID, id), models.Eq(models.FieldTag, models.NormalizeTag(tag))),
		models.Desc(models.FieldLastModify),
		models.Asc(models.FieldNVer),
	)
}

// VersionsByRef resolves a URL reference: digits select a version number,
// anything else a tag.
func (r *DocumentRepository) VersionsByRef(ctx context.Context, id, ref string) ([]models.Document, error) {
	nVer, tag, isNumber := models.ParseVersionRef(ref)
	if isNumber {
		return r.VersionsByNumber(ctx, id, nVer)
	}
	return r.VersionsByTag(ctx, id, tag)
}
