package service

import (
	"context"
	"errors"

	"consultchat/logger"
	"consultchat/module/consult/model"
	"consultchat/tools/errs"
	"consultchat/tools/security"

	"go.uber.org/zap"
)

// DoctorLookup resolves a token subject to its doctor profile.
type DoctorLookup interface {
	DoctorByUserID(ctx context.Context, userID string) (*model.Doctor, error)
}

// ResolveIdentity turns verified claims into an identity. The doctor id comes
// from the claim when present, otherwise from the directory. A subject with
// no profile keeps a doctor-kind identity without a doctor id, which can read
// but not post.
func ResolveIdentity(ctx context.Context, claims *security.Claims, doctors DoctorLookup) model.Identity {
	id := model.Identity{Kind: model.KindDoctor, SubjectID: claims.Subject, Role: claims.Role}
	if id.Role == "" {
		id.Role = model.RoleDoctor
	}
	if claims.DoctorID != nil {
		did := *claims.DoctorID
		id.DoctorID = &did
		return id
	}
	if id.Role == model.RoleAdmin || doctors == nil {
		return id
	}
	d, err := doctors.DoctorByUserID(ctx, claims.Subject)
	switch {
	case err == nil:
		did := d.ID
		id.DoctorID = &did
	case errors.Is(err, errs.ErrNotFound):
	default:
		logger.Warn("doctor lookup failed", zap.String("subject", claims.Subject), zap.Error(err))
	}
	return id
}
