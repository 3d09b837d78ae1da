package user

import (
	"context"
	"fmt"
	"io"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/storage"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/user/entity"
)

const (
	userImagePath        = "/user/image/"
	defaultUserImagePath = "/user/image/profile/"
	robohashURL          = "https://robohash.org/"
)

// saveProfileImage stores img as the canonical image of u and points u at it.
// A nil img leaves u untouched. The content type is checked before anything is written.
func (s *UserService) saveProfileImage(ctx context.Context, u *entity.User, img *storage.Upload) error {
	if img == nil || img.Body == nil {
		return nil
	}
	if err := storage.ValidateContentType(img.FileName, img.ContentType); err != nil {
		return err
	}
	if err := s.images.Save(ctx, u.Username, img.Body); err != nil {
		return fmt.Errorf("store profile image of %s: %w", u.Username, err)
	}
	u.ProfileImageURL = s.profileImageURL(u.Username)
	saved, err := s.save(ctx, u)
	if err != nil {
		return err
	}
	*u = *saved
	s.logger.Infow("profile image saved", "username", u.Username, "url", u.ProfileImageURL)
	return nil
}

// OpenProfileImage streams a stored image. Callers close the reader.
func (s *UserService) OpenProfileImage(ctx context.Context, username, fileName string) (io.ReadCloser, error) {
	return s.images.Open(ctx, username, fileName)
}

func (s *UserService) profileImageURL(username string) string {
	return s.baseURL + userImagePath + username + "/" + storage.FileName(username)
}

func (s *UserService) temporaryProfileImageURL(username string) string {
	return s.baseURL + defaultUserImagePath + username
}

// PlaceholderImageURL is where the default image of username is generated.
func PlaceholderImageURL(username string) string {
	return robohashURL + username
}
