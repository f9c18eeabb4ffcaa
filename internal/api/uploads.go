package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/rchs819/leela-zero-server/internal/dispatch"
	"github.com/rchs819/leela-zero-server/internal/domain/model"
	"github.com/rchs819/leela-zero-server/internal/ingest"
	"github.com/rchs819/leela-zero-server/internal/ratelimit"
)

// multipartMemory is how much of a parsed game upload is held in memory
// before file parts spill to disk.
const multipartMemory = 8 << 20

const incorrectKey = "Incorrect key provided."

func (s *Server) handleSubmitGame(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r, 2*s.cfg.MaxRecordBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.writeError(w, r, 0, formError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	version, err := clientVersion(r.FormValue("clientversion"))
	if err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	moves, err := formInt(r.FormValue("movescount"))
	if err != nil {
		s.writeError(w, r, version, err)
		return
	}
	sgf, err := openFormFile(r, "sgf")
	if err != nil {
		s.writeError(w, r, version, err)
		return
	}
	defer sgf.Close()
	training, err := openFormFile(r, "trainingdata")
	if err != nil {
		s.writeError(w, r, version, err)
		return
	}
	defer training.Close()

	sub := dispatch.GameSubmission{
		ClientID:      ratelimit.ClientIP(r),
		ClientVersion: version,
		NetworkHash:   strings.TrimSpace(r.FormValue("networkhash")),
		WinnerColor:   strings.TrimSpace(r.FormValue("winnercolor")),
		MovesCount:    moves,
		OptionsHash:   strings.TrimSpace(r.FormValue("options_hash")),
		SGF:           sgf,
		TrainingData:  training,
	}
	if seed := strings.TrimSpace(r.FormValue("random_seed")); seed != "" {
		sub.Seed = &seed
	}

	res, err := s.svc.SubmitGame(r.Context(), sub)
	if err != nil {
		s.writeError(w, r, version, err)
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("Game data %s stored in database\n", res.RecordHash))
}

func (s *Server) handleSubmitMatch(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r, s.cfg.MaxRecordBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.writeError(w, r, 0, formError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	version, err := clientVersion(r.FormValue("clientversion"))
	if err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	moves, err := formInt(r.FormValue("movescount"))
	if err != nil {
		s.writeError(w, r, version, err)
		return
	}
	sgf, err := openFormFile(r, "sgf")
	if err != nil {
		s.writeError(w, r, version, err)
		return
	}
	defer sgf.Close()

	out, err := s.svc.SubmitMatchResult(r.Context(), dispatch.MatchSubmission{
		ClientID:      ratelimit.ClientIP(r),
		ClientVersion: version,
		WinnerHash:    strings.TrimSpace(r.FormValue("winnerhash")),
		LoserHash:     strings.TrimSpace(r.FormValue("loserhash")),
		WinnerColor:   strings.TrimSpace(r.FormValue("winnercolor")),
		MovesCount:    moves,
		Score:         strings.TrimSpace(r.FormValue("score")),
		OptionsHash:   strings.TrimSpace(r.FormValue("options_hash")),
		Seed:          strings.TrimSpace(r.FormValue("random_seed")),
		SGF:           sgf,
	})
	if err != nil {
		s.writeError(w, r, version, err)
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("Match data %s stored in database\n", out.RecordHash))
}

// handleSubmitNetwork streams the weights part straight into the dispatcher
// so uploads of any size are never buffered. The key may follow the file, so
// it is checked once the whole form is consumed and a rejected upload is
// discarded.
func (s *Server) handleSubmitNetwork(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r, s.cfg.MaxNetworkBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, r, 0, model.Validationf("expected multipart form: %v", err))
		return
	}

	var (
		in     *dispatch.IngestedNetwork
		fields = make(map[string]string)
	)
	discard := func() {
		if in != nil {
			s.svc.DiscardNetwork(in)
			in = nil
		}
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			discard()
			s.writeError(w, r, 0, formError(err))
			return
		}
		name := part.FormName()
		if name == "weights" {
			if in != nil {
				part.Close()
				discard()
				s.writeError(w, r, 0, model.Validationf("only one weights file is accepted"))
				return
			}
			in, err = s.svc.IngestNetwork(r.Context(), part)
			part.Close()
			if err != nil {
				s.writeError(w, r, 0, err)
				return
			}
			continue
		}
		value, err := readField(part)
		part.Close()
		if err != nil {
			discard()
			s.writeError(w, r, 0, err)
			return
		}
		fields[name] = value
	}

	if !s.authorized(fields["key"]) {
		discard()
		s.logger.Warn("network upload rejected", "client_ip", ratelimit.ClientIP(r))
		writeText(w, http.StatusUnauthorized, incorrectKey)
		return
	}
	if in == nil {
		s.writeError(w, r, 0, model.Validationf("weights file is required"))
		return
	}

	meta := dispatch.NetworkMeta{
		Description: fields["description"],
		UploaderID:  ratelimit.ClientIP(r),
	}
	if meta.TrainingCount, err = formInt64("training_count", fields["training_count"]); err != nil {
		discard()
		s.writeError(w, r, 0, err)
		return
	}
	if meta.TrainingSteps, err = formInt64("training_steps", fields["training_steps"]); err != nil {
		discard()
		s.writeError(w, r, 0, err)
		return
	}

	res, err := s.svc.RegisterNetwork(r.Context(), in, meta)
	if err != nil {
		discard()
		s.writeError(w, r, 0, err)
		return
	}
	count := ""
	if meta.TrainingCount != nil {
		count = strconv.FormatInt(*meta.TrainingCount, 10)
	}
	state := "uploaded"
	if !res.Created {
		state = "exists"
	}
	writeText(w, http.StatusOK, fmt.Sprintf("Network weights (%d x %d) %s (%s) %s!\n",
		res.Architecture.Filters, res.Architecture.Blocks, res.Hash, count, state))
}

// matchRequestBody is the JSON form of a match request. Option fields may
// also be given at the top level, as the form encoding does.
type matchRequestBody struct {
	Key          string         `json:"key"`
	Network1     string         `json:"network1"`
	Network2     string         `json:"network2"`
	NumberToPlay json.Number    `json:"number_to_play"`
	IsTest       any            `json:"is_test"`
	Options      map[string]any `json:"options"`

	Visits             any `json:"visits"`
	Playouts           any `json:"playouts"`
	ResignationPercent any `json:"resignation_percent"`
	Noise              any `json:"noise"`
	RandomCount        any `json:"randomcnt"`
}

func (s *Server) handleRequestMatch(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r, 64<<10)
	body, err := decodeMatchRequest(r)
	if err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	if !s.authorized(body.Key) {
		s.logger.Warn("match request rejected", "client_ip", ratelimit.ClientIP(r))
		writeText(w, http.StatusUnauthorized, incorrectKey)
		return
	}

	req := dispatch.MatchRequest{
		NetworkA: strings.TrimSpace(body.Network1),
		NetworkB: strings.TrimSpace(body.Network2),
		Options:  body.options(),
	}
	if raw := strings.TrimSpace(body.NumberToPlay.String()); raw != "" {
		games, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, 0, model.Validationf("number_to_play: %q is not an integer", raw))
			return
		}
		req.Games = games
	}
	if req.IsTest, err = truthy(body.IsTest); err != nil {
		s.writeError(w, r, 0, err)
		return
	}

	m, err := s.svc.RequestMatch(r.Context(), req)
	if err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	s.logger.Info("match requested", "match_id", m.ID, "client_ip", ratelimit.ClientIP(r))
	if m.IsTest {
		writeText(w, http.StatusOK, "Test Match added!\n")
		return
	}
	writeText(w, http.StatusOK, "Regular Match added!\n")
}

func decodeMatchRequest(r *http.Request) (matchRequestBody, error) {
	var body matchRequestBody
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			return body, formError(err)
		}
		return body, nil
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return body, formError(err)
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	body.Key = r.FormValue("key")
	body.Network1 = r.FormValue("network1")
	body.Network2 = r.FormValue("network2")
	body.NumberToPlay = json.Number(r.FormValue("number_to_play"))
	body.IsTest = r.FormValue("is_test")
	body.Options = make(map[string]any)
	for _, key := range []string{model.OptionVisits, model.OptionPlayouts, model.OptionResignationPercent, model.OptionNoise, model.OptionRandomCount} {
		if v := strings.TrimSpace(r.FormValue(key)); v != "" {
			body.Options[key] = v
		}
	}
	return body, nil
}

// options merges top-level option fields under the nested options object.
// json.Number values are converted to strings, which option parsing accepts.
func (b matchRequestBody) options() map[string]any {
	out := make(map[string]any, len(b.Options)+5)
	for k, v := range map[string]any{
		model.OptionVisits:             b.Visits,
		model.OptionPlayouts:           b.Playouts,
		model.OptionResignationPercent: b.ResignationPercent,
		model.OptionNoise:              b.Noise,
		model.OptionRandomCount:        b.RandomCount,
	} {
		if v != nil {
			out[k] = v
		}
	}
	for k, v := range b.Options {
		out[k] = v
	}
	for k, v := range out {
		if n, ok := v.(json.Number); ok {
			out[k] = n.String()
		}
	}
	return out
}

func truthy(v any) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, model.Validationf("is_test: %q is not a boolean", t)
		}
		return b, nil
	}
	return false, model.Validationf("is_test: unsupported value %v", v)
}

func clientVersion(raw string) (int, error) {
	v, err := formInt(raw)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	if *v < 0 {
		return 0, model.Validationf("clientversion must not be negative")
	}
	return *v, nil
}

func openFormFile(r *http.Request, name string) (multipart.File, error) {
	f, _, err := r.FormFile(name)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, model.Validationf("%s file is required", name)
	}
	if err != nil {
		return nil, formError(err)
	}
	return f, nil
}

func readField(part *multipart.Part) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return "", formError(err)
	}
	if len(raw) > maxFieldBytes {
		return "", model.Validationf("field %s is too long", part.FormName())
	}
	return strings.TrimSpace(string(raw)), nil
}

// limitBody caps the request body at limit bytes and fails any read that
// makes no progress within the upload idle timeout. The worker server has no
// overall read timeout, so without it a stalled upload would hold its
// connection forever.
func (s *Server) limitBody(w http.ResponseWriter, r *http.Request, limit int64) {
	idle := ingest.NewIdleReader(r.Body, s.cfg.UploadIdleTimeout, http.NewResponseController(w).SetReadDeadline)
	r.Body = http.MaxBytesReader(w, idleBody{IdleReader: idle, Closer: r.Body}, limit)
}

type idleBody struct {
	*ingest.IdleReader
	io.Closer
}

// formError keeps size-limit and read-deadline errors intact and reports
// every other decoding failure as a bad request.
func formError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || errors.Is(err, os.ErrDeadlineExceeded) {
		return err
	}
	return model.Validationf("malformed form: %v", err)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body)
}
