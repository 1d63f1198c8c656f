package api

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"sharebin/cfg"
	"sharebin/pkg/domain"
	"sharebin/svc/svc"
	"sharebin/svc/util"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"
)

const (
	multipartOverhead = 64 * 1024
	multipartMemory   = 8 << 20
	maxFilenameBytes  = 255
)

type Hdl struct {
	share *svc.Share
	cfg   *cfg.Cfg
}

// UploadReq is the JSON form of an upload. File data is base64 in JSON.
type UploadReq struct {
	Text       *string        `json:"text,omitempty"`
	File       *UploadFileReq `json:"file,omitempty"`
	Expiration string         `json:"expiration,omitempty"`
}
type UploadFileReq struct {
	Filename string `json:"filename"`
	Mimetype string `json:"mimetype"`
	Data     []byte `json:"data"`
}
type UploadResp struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	ExpiresAt *time.Time `json:"expiresAt"`
}
type ViewResp struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Content   *string    `json:"content,omitempty"`
	Data      *string    `json:"data,omitempty"`
	Filename  string     `json:"filename,omitempty"`
	Mimetype  string     `json:"mimetype,omitempty"`
	Views     int64      `json:"views"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt"`
}
type ExpirationOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}
type ExpirationsResp struct {
	Default string             `json:"default"`
	Options []ExpirationOption `json:"options"`
}

func (h *Hdl) Upload(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}
	if ce := r.Header.Get("Content-Encoding"); ce != "" && ce != "identity" {
		log.Warn().Str("content_encoding", ce).Msg("compressed upload rejected")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	var (
		sub        domain.Submission
		expiration string
	)
	switch mediaType {
	case "multipart/form-data":
		limit := h.cfg.MaxFileSize
		if h.cfg.MaxTextSize > limit {
			limit = h.cfg.MaxTextSize
		}
		limit += multipartOverhead
		if r.ContentLength > limit {
			writeErr(w, domain.ErrPayloadTooLarge, requestID)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		sub, expiration, err = h.readMultipart(r)
	case "application/json":
		limit := h.cfg.MaxTextSize*2 + h.cfg.MaxFileSize*4/3 + 4096
		if r.ContentLength > limit {
			writeErr(w, domain.ErrPayloadTooLarge, requestID)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		sub, expiration, err = readJSON(r)
	default:
		w.WriteHeader(http.StatusUnsupportedMediaType)
		json.NewEncoder(w).Encode(map[string]string{
			"error":      "expected multipart/form-data or application/json",
			"request_id": requestID,
		})
		return
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, domain.ErrPayloadTooLarge) {
			log.Warn().Int64("content_length", r.ContentLength).Msg("upload exceeds maximum size")
			writeErr(w, domain.ErrPayloadTooLarge, requestID)
			return
		}
		log.Warn().Err(err).Msg("invalid upload")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	receipt, err := h.share.Submit(r.Context(), sub, expiration)
	if err != nil {
		if domain.Status(err) < 500 {
			log.Debug().Err(err).Msg("upload rejected")
		}
		writeErr(w, err, requestID)
		return
	}
	ev := log.Info().
		Str("id", receipt.ID).
		Str("type", string(receipt.Kind))
	if sub.File != nil {
		ev = ev.Str("filename", util.RedactFilename(sub.File.Filename))
	}
	ev.Msg("share created")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(UploadResp{
		ID:        receipt.ID,
		Type:      string(receipt.Kind),
		ExpiresAt: receipt.ExpiresAt,
	})
}

// readMultipart extracts the text field or file part plus the expiration.
func (h *Hdl) readMultipart(r *http.Request) (domain.Submission, string, error) {
	var sub domain.Submission
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return sub, "", errors.Wrap(err, "parse multipart")
	}
	defer r.MultipartForm.RemoveAll()
	form := r.MultipartForm
	if vals, ok := form.Value["text"]; ok && len(vals) > 0 {
		text := vals[0]
		sub.Text = &text
	}
	expiration := ""
	if vals := form.Value["expiration"]; len(vals) > 0 {
		expiration = vals[0]
	}
	if files := form.File["file"]; len(files) > 0 {
		fh := files[0]
		if fh.Size > h.cfg.MaxFileSize {
			return sub, "", domain.ErrPayloadTooLarge
		}
		f, err := fh.Open()
		if err != nil {
			return sub, "", errors.Wrap(err, "open file part")
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, h.cfg.MaxFileSize+1))
		if err != nil {
			return sub, "", errors.Wrap(err, "read file part")
		}
		sub.File = &domain.FileUpload{
			Filename:  sanitizeFilename(fh.Filename),
			MediaType: partMediaType(fh.Header.Get("Content-Type")),
			Data:      data,
		}
	}
	return sub, expiration, nil
}
func readJSON(r *http.Request) (domain.Submission, string, error) {
	var req UploadReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return domain.Submission{}, "", errors.Wrap(err, "decode json")
	}
	sub := domain.Submission{Text: req.Text}
	if req.File != nil {
		data := req.File.Data
		if data == nil {
			data = []byte{}
		}
		sub.File = &domain.FileUpload{
			Filename:  sanitizeFilename(req.File.Filename),
			MediaType: partMediaType(req.File.Mimetype),
			Data:      data,
		}
	}
	return sub, req.Expiration, nil
}
func (h *Hdl) View(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	res, err := h.resolve(r)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	resp := ViewResp{
		ID:        res.ID,
		Type:      string(res.Kind),
		Views:     res.Views,
		CreatedAt: res.CreatedAt,
		ExpiresAt: res.ExpiresAt,
	}
	switch res.Kind {
	case domain.KindText:
		text := res.Text
		resp.Content = &text
	case domain.KindFile:
		data := base64.StdEncoding.EncodeToString(res.Data)
		resp.Data = &data
		resp.Filename = res.Filename
		resp.Mimetype = res.MediaType
	}
	json.NewEncoder(w).Encode(resp)
}

// Raw serves the stored bytes directly. It counts as a view.
func (h *Hdl) Raw(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	res, err := h.resolve(r)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	w.Header().Set("X-View-Count", strconv.FormatInt(res.Views, 10))
	if res.Kind == domain.KindText {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(res.Text)))
		io.WriteString(w, res.Text)
		return
	}
	w.Header().Set("Content-Type", res.MediaType)
	if cd := mime.FormatMediaType("attachment", map[string]string{"filename": res.Filename}); cd != "" {
		w.Header().Set("Content-Disposition", cd)
	} else {
		w.Header().Set("Content-Disposition", "attachment")
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Write(res.Data)
}
func (h *Hdl) resolve(r *http.Request) (*domain.Resolution, error) {
	log := hlog.FromRequest(r)
	id := chi.URLParam(r, "id")
	res, err := h.share.Resolve(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Debug().Str("id", id).Msg("share not found")
		}
		return nil, err
	}
	log.Info().
		Str("id", id).
		Str("client_ip", util.RedactIP(r.RemoteAddr)).
		Int64("views", res.Views).
		Msg("share resolved")
	return res, nil
}
func (h *Hdl) Expirations(w http.ResponseWriter, r *http.Request) {
	presets := h.share.Presets()
	resp := ExpirationsResp{
		Default: expirationValue(h.share.DefaultExpiration()),
		Options: make([]ExpirationOption, len(presets)),
	}
	for i, d := range presets {
		resp.Options[i] = ExpirationOption{Value: expirationValue(d), Label: domain.FormatExpiration(d)}
	}
	json.NewEncoder(w).Encode(resp)
}

// expirationValue renders d as an hour count when it is whole hours, which is
// what the upload form posts.
func expirationValue(d time.Duration) string {
	if d%time.Hour == 0 {
		return strconv.FormatInt(int64(d/time.Hour), 10)
	}
	return d.String()
}
func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	errorMsg := domain.ToResp(err).Error.Msg
	if statusCode >= 500 {
		errorMsg = "internal server error"
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error":      errorMsg,
		"request_id": requestID,
	})
}

// sanitizeFilename keeps the base name of a client supplied filename, NFC
// normalised, without control characters.
func sanitizeFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.ToValidUTF8(name, "")
	name = norm.NFC.String(name)
	name = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 || (r >= 0x80 && r < 0xa0) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	for len(name) > maxFilenameBytes {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return name
}

// partMediaType returns a clean media type, or "" to let the codec default it.
func partMediaType(ct string) string {
	mt, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return mime.FormatMediaType(mt, params)
}
