package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/teachme-ai/roster/internal/supabase"
)

// maxAvatarFetchBytes caps downloads on the fileUrl path.
const maxAvatarFetchBytes = 10 << 20

var (
	dataURLRe     = regexp.MustCompile(`^data:(.*?);base64`)
	extSanitizeRe = regexp.MustCompile(`[^a-z0-9]`)
)

type uploadAvatarRequest struct {
	UserID     string `json:"userId"`
	FileBase64 string `json:"fileBase64"`
	FileURL    string `json:"fileUrl"`
	Filename   string `json:"filename"`
}

type uploadAvatarResponse struct {
	Success   bool   `json:"success"`
	PublicURL string `json:"publicUrl"`
}

// HandleUploadAvatar handles POST /api/testing/upload-avatar.
//
// Testing-only path: uploads an avatar without a client session, using the
// service-role channel for both the storage write and the profile update.
// Disabled unless a dedicated service-role key is configured.
func (h *Handlers) HandleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	if !h.hasServiceKey {
		writeError(w, http.StatusBadRequest,
			"Backend missing SUPABASE_SERVICE_ROLE_KEY. Set it in the backend environment to enable testing uploads without client auth.")
		return
	}

	var req uploadAvatarRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if req.FileBase64 == "" && req.FileURL == "" {
		writeError(w, http.StatusBadRequest, "Provide fileBase64 or fileUrl")
		return
	}

	var (
		data        []byte
		contentType = "image/png"
	)
	if req.FileBase64 != "" {
		raw := req.FileBase64
		if idx := strings.Index(raw, ","); idx >= 0 {
			raw = raw[idx+1:]
		}
		if m := dataURLRe.FindStringSubmatch(req.FileBase64); m != nil && m[1] != "" {
			contentType = m[1]
		}
		decoded, err := decodeBase64(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid base64 payload")
			return
		}
		data = decoded
	} else {
		resp, err := h.fetch.Get(req.FileURL)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Fetch failed")
			return
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Fetch failed: %d", resp.StatusCode))
			return
		}
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			contentType = ct
		}
		data, err = io.ReadAll(io.LimitReader(resp.Body, maxAvatarFetchBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Fetch failed")
			return
		}
	}

	objectPath := req.UserID + "/" + uuid.New().String() + "." + avatarExt(req.Filename, contentType)

	channels := ChannelsFromContext(r.Context())
	if err := channels.Admin.UploadObject(r.Context(), "avatars", objectPath, contentType, data); err != nil {
		writeError(w, http.StatusBadRequest, supabaseMessage(err, "Upload failed"))
		return
	}

	publicURL := channels.Admin.PublicURL("avatars", objectPath)

	q := url.Values{}
	q.Set("id", "eq."+req.UserID)
	update := map[string]any{"profile_picture_url": publicURL}
	if err := channels.Admin.Update(r.Context(), "users", q, update); err != nil {
		writeError(w, http.StatusBadRequest, supabaseMessage(err, "Profile update failed"))
		return
	}

	h.recorder.EmitAsync(AuditContextFromContext(r.Context()),
		"upload_avatar", "public.users", req.UserID,
		map[string]any{"object_path": objectPath})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(uploadAvatarResponse{Success: true, PublicURL: publicURL})
}

// avatarExt picks the stored object's extension: filename extension first,
// else the content type's subtype, else png. Lowercased and stripped to
// alphanumerics.
func avatarExt(filename, contentType string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	if ext == "" {
		if idx := strings.LastIndex(contentType, "/"); idx >= 0 {
			ext = strings.ToLower(contentType[idx+1:])
		}
	}
	ext = extSanitizeRe.ReplaceAllString(ext, "")
	if ext == "" {
		ext = "png"
	}
	return ext
}

// decodeBase64 accepts both padded and unpadded standard encodings.
func decodeBase64(raw string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return decoded, nil
	}
	return base64.RawStdEncoding.DecodeString(raw)
}

// supabaseMessage surfaces the data service's error message where one
// exists, mirroring the upstream behavior of returning it to the caller on
// this testing-only path.
func supabaseMessage(err error, fallback string) string {
	var serr *supabase.Error
	if errors.As(err, &serr) && serr.Message != "" {
		return serr.Message
	}
	return fallback
}
