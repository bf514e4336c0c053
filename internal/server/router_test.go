package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/snapwatch/internal/backup"
	"github.com/loykin/snapwatch/internal/errs"
	"github.com/loykin/snapwatch/internal/history"
	"github.com/loykin/snapwatch/internal/tracking"
)

type fakeService struct {
	entries  []tracking.Status
	backups  map[string][]backup.Record
	procs    []string
	events   []history.Event
	renamed  [2]string
	added    []tracking.Entry
	removed  string
	deleted  string
	restored string
	limit    int
}

func newFake() *fakeService {
	return &fakeService{
		entries: []tracking.Status{{
			Entry:          tracking.Entry{ProcessName: "notepad", Source: "${HOME}/notes.txt", Destination: "/backups", Running: true},
			ResolvedSource: "/home/u/notes.txt",
		}},
		backups: map[string][]backup.Record{
			"notepad": {
				{Process: "notepad", Name: "20261016T142530Z", CreatedAt: time.Date(2026, 10, 16, 14, 25, 30, 0, time.UTC)},
				{Process: "notepad", Name: "20261015T080000Z", CreatedAt: time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)},
			},
		},
		procs: []string{"code", "notepad"},
	}
}

func unknown(p string) error {
	return errs.E(errs.KindUnknownEntry, "entry", "", errors.New(p))
}

func (f *fakeService) Entries() []tracking.Status { return f.entries }

func (f *fakeService) AddEntry(e tracking.Entry) error {
	if err := tracking.ValidateName(e.ProcessName); err != nil {
		return errs.Invalidf("add", "%v", err)
	}
	if e.ProcessName == "notepad" {
		return errs.Invalidf("add", "process %s is already tracked", e.ProcessName)
	}
	if e.ProcessName == "readonly" {
		return errs.E(errs.KindIOFailure, "save", "/etc/tracked.toml", errors.New("permission denied"))
	}
	f.added = append(f.added, e)
	return nil
}

func (f *fakeService) RemoveEntry(p string) error {
	if p != "notepad" {
		return unknown(p)
	}
	f.removed = p
	return nil
}

func (f *fakeService) Rename(o, n string) error {
	if o != "notepad" {
		return unknown(o)
	}
	if n == "code" {
		return errs.Invalidf("rename", "process %s is already tracked", n)
	}
	f.renamed = [2]string{o, n}
	return nil
}

func (f *fakeService) Backups(_ context.Context, p string) ([]backup.Record, error) {
	recs, ok := f.backups[p]
	if !ok {
		return nil, unknown(p)
	}
	return recs, nil
}

func (f *fakeService) Backup(_ context.Context, p string) (backup.Record, error) {
	if p == "broken" {
		return backup.Record{}, errs.E(errs.KindIOFailure, "backup.create", "/x", errors.New("disk full"))
	}
	if _, ok := f.backups[p]; !ok {
		return backup.Record{}, unknown(p)
	}
	return backup.Record{Process: p, Name: "20261016T150000Z"}, nil
}

func (f *fakeService) Delete(_ context.Context, p, name string) error {
	if _, ok := f.backups[p]; !ok {
		return unknown(p)
	}
	if name != "20261016T142530Z" {
		return errs.E(errs.KindBackupNotFound, "backup.delete", name, nil)
	}
	f.deleted = name
	return nil
}

func (f *fakeService) Restore(_ context.Context, p, name string) (string, error) {
	recs, ok := f.backups[p]
	if !ok {
		return "", unknown(p)
	}
	if name == "" {
		name = recs[0].Name
	}
	if name == "20200101T000000Z" {
		inner := errs.E(errs.KindBackupNotFound, "backup.dir", name, nil)
		return "", errs.E(errs.KindRestoreFailed, "restore", p, inner)
	}
	f.restored = name
	return name, nil
}

func (f *fakeService) Processes(context.Context) ([]string, error) { return f.procs, nil }

func (f *fakeService) History(_ context.Context, _ string, limit int) ([]history.Event, error) {
	f.limit = limit
	if f.events == nil {
		return nil, history.ErrNotReadable
	}
	return f.events, nil
}

func setupRouter(t *testing.T, base string, svc Service) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(svc, base).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse json %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestEntries(t *testing.T) {
	h := setupRouter(t, "/api/", newFake())
	rec := doReq(t, h, http.MethodGet, "/api/entries", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decode[[]map[string]any](t, rec)
	if len(got) != 1 || got[0]["process"] != "notepad" || got[0]["running"] != true {
		t.Fatalf("unexpected entries: %v", got)
	}
	if got[0]["resolved_source"] != "/home/u/notes.txt" {
		t.Fatalf("resolved source missing: %v", got[0])
	}
}

func TestAddEntry(t *testing.T) {
	svc := newFake()
	h := setupRouter(t, "/api", svc)

	body := tracking.Entry{ProcessName: "code", Source: "/src", Destination: "/dst", Running: true}
	rec := doReq(t, h, http.MethodPost, "/api/entries", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(svc.added) != 1 || svc.added[0].ProcessName != "code" || svc.added[0].Running {
		t.Fatalf("entry not passed through: %+v", svc.added)
	}

	cases := []struct {
		name string
		body any
		want int
	}{
		{"duplicate", tracking.Entry{ProcessName: "notepad", Source: "/s", Destination: "/d"}, http.StatusBadRequest},
		{"bad name", tracking.Entry{ProcessName: "a/b", Source: "/s", Destination: "/d"}, http.StatusBadRequest},
		{"save failure", tracking.Entry{ProcessName: "readonly", Source: "/s", Destination: "/d"}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doReq(t, h, http.MethodPost, "/api/entries", tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRemoveEntry(t *testing.T) {
	svc := newFake()
	h := setupRouter(t, "", svc)

	if rec := doReq(t, h, http.MethodDelete, "/entries?process=notepad", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.removed != "notepad" {
		t.Fatalf("remove not applied")
	}
	if rec := doReq(t, h, http.MethodDelete, "/entries?process=vim", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodDelete, "/entries", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRename(t *testing.T) {
	svc := newFake()
	h := setupRouter(t, "", svc)

	rec := doReq(t, h, http.MethodPost, "/entries/rename", renameReq{Old: "notepad", New: "notepad++"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.renamed != [2]string{"notepad", "notepad++"} {
		t.Fatalf("rename not applied: %v", svc.renamed)
	}

	cases := []struct {
		name string
		body any
		want int
	}{
		{"missing fields", renameReq{Old: "notepad"}, http.StatusBadRequest},
		{"unknown", renameReq{Old: "vim", New: "nvim"}, http.StatusNotFound},
		{"taken", renameReq{Old: "notepad", New: "code"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doReq(t, h, http.MethodPost, "/entries/rename", tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/entries/rename", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid json expected 400, got %d", rr.Code)
	}
}

func TestListBackups(t *testing.T) {
	h := setupRouter(t, "", newFake())
	rec := doReq(t, h, http.MethodGet, "/backups?process=notepad", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	recs := decode[[]backup.Record](t, rec)
	if len(recs) != 2 || recs[0].Name != "20261016T142530Z" {
		t.Fatalf("unexpected records: %v", recs)
	}

	if rec := doReq(t, h, http.MethodGet, "/backups", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing process expected 400, got %d", rec.Code)
	}
	rec = doReq(t, h, http.MethodGet, "/backups?process=vim", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown process expected 404, got %d", rec.Code)
	}
	if e := decode[errorResp](t, rec); e.Kind != string(errs.KindUnknownEntry) {
		t.Fatalf("unexpected kind %q", e.Kind)
	}
}

func TestCreateBackup(t *testing.T) {
	h := setupRouter(t, "", newFake())
	rec := doReq(t, h, http.MethodPost, "/backups?process=notepad", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if r := decode[backup.Record](t, rec); r.Name != "20261016T150000Z" {
		t.Fatalf("unexpected record: %v", r)
	}
	rec = doReq(t, h, http.MethodPost, "/backups?process=broken", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("io failure expected 500, got %d", rec.Code)
	}
}

func TestDeleteBackup(t *testing.T) {
	svc := newFake()
	h := setupRouter(t, "", svc)
	rec := doReq(t, h, http.MethodDelete, "/backups?process=notepad&name=20261016T142530Z", nil)
	if rec.Code != http.StatusOK || svc.deleted != "20261016T142530Z" {
		t.Fatalf("expected delete, got %d %q", rec.Code, svc.deleted)
	}
	cases := []struct {
		query string
		want  int
	}{
		{"process=notepad&name=20000101T000000Z", http.StatusNotFound},
		{"process=notepad&name=..", http.StatusBadRequest},
		{"process=notepad&name=a%2Fb", http.StatusBadRequest},
		{"process=notepad", http.StatusBadRequest},
		{"name=20261016T142530Z", http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := doReq(t, h, http.MethodDelete, "/backups?"+tc.query, nil)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.query, tc.want, rec.Code)
		}
	}
}

func TestRestore(t *testing.T) {
	svc := newFake()
	h := setupRouter(t, "", svc)

	rec := doReq(t, h, http.MethodPost, "/restore?process=notepad", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if r := decode[RestoreResp](t, rec); r.Backup != "20261016T142530Z" || r.Process != "notepad" {
		t.Fatalf("latest not used: %v", r)
	}

	rec = doReq(t, h, http.MethodPost, "/restore?process=notepad&name=20261015T080000Z", nil)
	if rec.Code != http.StatusOK || svc.restored != "20261015T080000Z" {
		t.Fatalf("chosen backup not restored: %d %q", rec.Code, svc.restored)
	}

	rec = doReq(t, h, http.MethodPost, "/restore?process=notepad&name=20200101T000000Z", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing backup expected 404, got %d", rec.Code)
	}
	if e := decode[errorResp](t, rec); e.Kind != string(errs.KindBackupNotFound) {
		t.Fatalf("expected innermost kind, got %q", e.Kind)
	}
	if rec := doReq(t, h, http.MethodPost, "/restore?process=notepad&name=../x", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("unsafe name expected 400, got %d", rec.Code)
	}
}

func TestProcesses(t *testing.T) {
	h := setupRouter(t, "/v1", newFake())
	rec := doReq(t, h, http.MethodGet, "/v1/processes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if names := decode[[]string](t, rec); len(names) != 2 || names[0] != "code" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestHistory(t *testing.T) {
	svc := newFake()
	h := setupRouter(t, "", svc)

	if rec := doReq(t, h, http.MethodGet, "/history", nil); rec.Code != http.StatusNotImplemented {
		t.Fatalf("unreadable sink expected 501, got %d", rec.Code)
	}

	svc.events = []history.Event{history.NewEvent(history.EventBackupCreated, "notepad")}
	rec := doReq(t, h, http.MethodGet, "/history?process=notepad", nil)
	if rec.Code != http.StatusOK || svc.limit != DefaultHistoryLimit {
		t.Fatalf("expected 200 with default limit, got %d limit=%d", rec.Code, svc.limit)
	}
	if evs := decode[[]history.Event](t, rec); len(evs) != 1 || evs[0].Type != history.EventBackupCreated {
		t.Fatalf("unexpected events: %v", evs)
	}
	if rec := doReq(t, h, http.MethodGet, "/history?limit=5", nil); rec.Code != http.StatusOK || svc.limit != 5 {
		t.Fatalf("limit not passed: %d %d", rec.Code, svc.limit)
	}
	for _, bad := range []string{"0", "-1", "many"} {
		if rec := doReq(t, h, http.MethodGet, "/history?limit="+bad, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("limit=%s expected 400, got %d", bad, rec.Code)
		}
	}
}

func TestNewServer(t *testing.T) {
	srv := NewServer("127.0.0.1:0", "/x", newFake())
	if srv.Addr != "127.0.0.1:0" || srv.Handler == nil {
		t.Fatalf("unexpected server: %+v", srv)
	}
	_ = srv.Close()
}
