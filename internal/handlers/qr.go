package handlers

import (
	"bytes"
	"io"
	"net/http"
	"regexp"

	qrcode "github.com/yeqown/go-qrcode/v2"
	"github.com/yeqown/go-qrcode/writer/standard"

	"github.com/scmmishra/leadtrace/internal/neighborhood"
	"github.com/scmmishra/leadtrace/internal/refcode"
)

var hexColorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// QRHandler renders QR codes for printed marketing material. Each code
// points at an owned domain with a referral code, so visits from print
// can be told apart from direct traffic.
type QRHandler struct {
	Ref ReferenceSource
}

// ServeHTTP serves GET /api/qr?domain=&ref=&shape=&fg=&dl=.
func (h *QRHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	domain := neighborhood.NormalizeDomain(q.Get("domain"))
	if domain == "" || !ownedOrigin(h.Ref.Reference(), "https://"+domain) {
		jsonError(w, "domain not owned", http.StatusBadRequest)
		return
	}

	code := refcode.Normalize(q.Get("ref"))
	if code == "" {
		var err error
		if code, err = refcode.Generate(); err != nil {
			jsonError(w, "failed to generate referral code", http.StatusInternalServerError)
			return
		}
	} else if !refcode.Valid(code) {
		jsonError(w, "invalid referral code", http.StatusBadRequest)
		return
	}

	// Always a transparent background
	opts := []standard.ImageOption{
		standard.WithBuiltinImageEncoder(standard.PNG_FORMAT),
		standard.WithQRWidth(10),
		standard.WithBorderWidth(20),
		standard.WithBgTransparent(),
	}
	if q.Get("shape") == "circle" {
		opts = append(opts, standard.WithCircleShape())
	}
	if fg := q.Get("fg"); hexColorRe.MatchString(fg) {
		opts = append(opts, standard.WithFgColorRGBHex(fg))
	}

	qrc, err := qrcode.New(refcode.LandingURL(domain, code))
	if err != nil {
		jsonError(w, "failed to generate qr code", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	writer := standard.NewWithWriter(nopCloser{&buf}, opts...)
	if err := qrc.Save(writer); err != nil {
		jsonError(w, "failed to render qr code", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Ref-Code", code)
	if q.Get("dl") == "1" {
		w.Header().Set("Content-Disposition", "attachment; filename=\""+domain+"-"+code+".png\"")
	}
	w.Write(buf.Bytes())
}
