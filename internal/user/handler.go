package user

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/security"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/storage"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/user/entity"
)

const maxUploadBytes = 10 << 20

// Handler exposes the account operations over HTTP.
type Handler struct {
	svc    *UserService
	logger *zap.SugaredLogger
}

func NewHandler(svc *UserService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the /user routes on mux. Authority checks rely on security.Middleware
// having put the token claims in the request context.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /user/login", h.Login)
	mux.HandleFunc("POST /user/register", h.RegisterUser)
	mux.HandleFunc("POST /user/add", security.RequireAuthority(entity.AuthorityCreate, h.AddNewUser))
	mux.HandleFunc("POST /user/update", security.RequireAuthority(entity.AuthorityUpdate, h.UpdateUser))
	mux.HandleFunc("GET /user/find/{username}", h.FindUser)
	mux.HandleFunc("GET /user/list", h.ListUsers)
	mux.HandleFunc("GET /user/reset-password/{email}", h.ResetPassword)
	mux.HandleFunc("DELETE /user/delete/{id}", security.RequireAuthority(entity.AuthorityDelete, h.DeleteUser))
	mux.HandleFunc("POST /user/update-profile-image", h.UpdateProfileImage)
	mux.HandleFunc("GET /user/image/{username}/{fileName}", h.ProfileImage)
	mux.HandleFunc("GET /user/image/profile/{username}", h.TemporaryProfileImage)
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Username  string `json:"username"`
	Email     string `json:"email"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	res, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set(security.TokenHeader, security.TokenPrefix+res.Token)
	h.writeJSON(w, http.StatusOK, res.User)
}

func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid register payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	u, err := h.svc.Register(r.Context(), RegisterInput(req))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

func (h *Handler) AddNewUser(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	img, closeImg, err := h.formImage(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer closeImg()
	u, err := h.svc.AddNewUser(r.Context(), addUserInputFromForm(r), img)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	img, closeImg, err := h.formImage(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer closeImg()
	in := UpdateUserInput{
		CurrentUsername: r.FormValue("currentUsername"),
		AddUserInput:    addUserInputFromForm(r),
	}
	u, err := h.svc.UpdateUser(r.Context(), in, img)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

func (h *Handler) FindUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.FindByUsername(r.Context(), r.PathValue("username"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if users == nil {
		users = []*entity.User{}
	}
	h.writeJSON(w, http.StatusOK, users)
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("email")
	if err := h.svc.ResetPassword(r.Context(), addr); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "An email with a new password was sent to: " + addr})
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	if err := h.svc.DeleteUser(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "User deleted successfully"})
}

func (h *Handler) UpdateProfileImage(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	img, closeImg, err := h.formImage(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer closeImg()
	u, err := h.svc.UpdateProfileImage(r.Context(), r.FormValue("username"), img)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

func (h *Handler) ProfileImage(w http.ResponseWriter, r *http.Request) {
	rc, err := h.svc.OpenProfileImage(r.Context(), r.PathValue("username"), r.PathValue("fileName"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer rc.Close()
	ct, body, err := storage.DetectContentType(rc)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", ct)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Debugw("profile image write aborted", "err", err)
	}
}

// TemporaryProfileImage sends clients to the generated placeholder for users without an upload.
func (h *Handler) TemporaryProfileImage(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, PlaceholderImageURL(r.PathValue("username")), http.StatusFound)
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	err := r.ParseMultipartForm(maxUploadBytes)
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		h.logger.Debugw("invalid form", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid form"})
		return false
	}
	if errors.Is(err, http.ErrNotMultipart) {
		if err := r.ParseForm(); err != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid form"})
			return false
		}
	}
	return true
}

// formImage returns the optional "profileImage" part. A missing declared content type is sniffed.
func (h *Handler) formImage(r *http.Request) (*storage.Upload, func(), error) {
	noop := func() {}
	if r.MultipartForm == nil {
		return nil, noop, nil
	}
	f, fh, err := r.FormFile("profileImage")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, noop, nil
	}
	if err != nil {
		return nil, noop, err
	}
	closeFn := func() { _ = f.Close() }
	up := &storage.Upload{FileName: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Body: f}
	if up.ContentType == "" || up.ContentType == "application/octet-stream" {
		ct, body, err := storage.DetectContentType(f)
		if err != nil {
			closeFn()
			return nil, noop, err
		}
		up.ContentType, up.Body = ct, body
	}
	return up, closeFn, nil
}

func addUserInputFromForm(r *http.Request) AddUserInput {
	return AddUserInput{
		FirstName: r.FormValue("firstName"),
		LastName:  r.FormValue("lastName"),
		Username:  r.FormValue("username"),
		Email:     r.FormValue("email"),
		Role:      r.FormValue("role"),
		Active:    formBool(r, "isActive"),
		NotLocked: formBool(r, "isNotLocked"),
	}
}

func formBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.FormValue(key))
	return b
}

// writeError maps domain errors onto status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"
	switch {
	case errors.Is(err, ErrBadCredentials):
		status, msg = http.StatusBadRequest, "Username / password incorrect. Please try again"
	case errors.Is(err, ErrAccountLocked):
		status, msg = http.StatusUnauthorized, "Your account has been locked. Please contact administration"
	case errors.Is(err, ErrAccountDisabled):
		status, msg = http.StatusBadRequest, "Your account has been disabled. If this is an error, please contact administration"
	case errors.Is(err, ErrUsernameExists), errors.Is(err, ErrEmailExists):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrEmailNotFound), errors.Is(err, storage.ErrImageNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, ErrInvalidInput), errors.Is(err, entity.ErrUnknownRole),
		errors.Is(err, storage.ErrNotAnImage), errors.Is(err, storage.ErrInvalidUsername):
		status, msg = http.StatusBadRequest, err.Error()
	}
	if status == http.StatusInternalServerError {
		h.logger.Warnw("request failed", "err", err)
	} else {
		h.logger.Debugw("request rejected", "status", status, "err", err)
	}
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
