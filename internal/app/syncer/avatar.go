package syncer

import (
	"bytes"
	"context"
	"net/url"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Overland-East-Bay/club-sync/internal/app/notify"
	"github.com/Overland-East-Bay/club-sync/internal/domain"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clubapi"
)

// SyncAvatar downloads the user's avatar image and stores it on the user.
// An empty response clears the avatar.
func (s *Syncer) SyncAvatar(ctx context.Context, id domain.UserID) error {
	resp, err := s.sender.Send(ctx, clubapi.Get(clubapi.PathUserAvatar, url.Values{"userID": {string(id)}}))
	if err != nil {
		return goerr.Wrap(err, "fetch avatar", goerr.V("user", id))
	}
	var avatar []byte
	if len(resp.Body) > 0 {
		avatar = resp.Body
	}
	return s.Update(ctx, func(ctx context.Context, u *Unit) error {
		user, err := loadOrStub(ctx, u, KindUser, string(id), func() (domain.User, error) {
			return u.tx.Users().Get(ctx, id)
		})
		if err != nil {
			return err
		}
		if bytes.Equal(user.Avatar, avatar) {
			return nil
		}
		user.Avatar = avatar
		if err := u.tx.Users().Save(ctx, user); err != nil {
			return goerr.Wrap(err, "save avatar", goerr.V("user", id))
		}
		u.Notify(notify.TopicUserSync, string(id))
		return nil
	})
}
