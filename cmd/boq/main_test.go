package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/cadboq/internal/boq"
	"github.com/JonMunkholm/cadboq/internal/export"
	"github.com/JonMunkholm/cadboq/internal/extract"
)

func fakeService(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue(extract.FieldAccessToken) != "" {
			http.Error(w, "cli uploads are anonymous", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeDrawing(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte("0\nSECTION\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRun_WritesSpreadsheet(t *testing.T) {
	srv := fakeService(t, `[{"item_no":1,"component":"Wall","quantity":10,"unit":"m2"},
		{"item_no":2,"component":"Door","quantity":2,"unit":"nos","rate":100}]`)
	drawing := writeDrawing(t, "plan.dxf")
	out := filepath.Join(t.TempDir(), "out.xlsx")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{
		"-api", srv.URL, "-out", out, "-rate", "0=₹12.5", drawing,
	}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run() error = %v (stderr %s)", err, stderr.String())
	}

	if !strings.Contains(stdout.String(), "2 items (2 estimated), grand total 325.00") {
		t.Errorf("stdout = %q", stdout.String())
	}

	f, err := excelize.OpenFile(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	got, _ := f.GetCellValue(export.SheetName, "G4", excelize.Options{RawCellValue: true})
	if got != "325" {
		t.Errorf("grand total cell = %q, want 325", got)
	}
}

func TestRun_RateOutOfRange(t *testing.T) {
	srv := fakeService(t, `{"boq":[{"item_no":1,"component":"Wall","quantity":1,"unit":"m"}]}`)
	drawing := writeDrawing(t, "plan.dwg")

	err := run(context.Background(), []string{
		"-api", srv.URL, "-out", filepath.Join(t.TempDir(), "x.xlsx"), "-rate", "5=10", drawing,
	}, &bytes.Buffer{}, &bytes.Buffer{})
	if !errors.Is(err, boq.ErrIndexOutOfRange) {
		t.Errorf("run() error = %v, want ErrIndexOutOfRange", err)
	}
}

func TestRun_RejectsUnsupportedFile(t *testing.T) {
	drawing := writeDrawing(t, "notes.txt")

	err := run(context.Background(), []string{"-api", "http://127.0.0.1:1", drawing}, &bytes.Buffer{}, &bytes.Buffer{})
	if !errors.Is(err, extract.ErrUnsupportedFile) {
		t.Errorf("run() error = %v, want ErrUnsupportedFile", err)
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{
			name: "known failure carries its code",
			err:  &extract.ValidationError{Field: "file", Err: extract.ErrUnsupportedFile},
			want: []string{"(Code: VAL002)", "detail: invalid file: unsupported file type"},
		},
		{
			name: "service down",
			err:  &extract.UploadError{Err: errors.New("connection refused")},
			want: []string{"(Code: UPL001)", "connection refused"},
		},
		{
			name: "unknown failure printed as is",
			err:  errors.New("open plan.dwg: permission denied"),
			want: []string{"open plan.dwg: permission denied"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := describe(tt.err)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("describe() = %q, missing %q", got, w)
				}
			}
		})
	}
	if got := describe(errors.New("x")); strings.Contains(got, "Code:") {
		t.Errorf("describe() = %q, want no code for an unmapped error", got)
	}
}

func TestRun_Usage(t *testing.T) {
	var stderr bytes.Buffer
	if err := run(context.Background(), nil, &bytes.Buffer{}, &stderr); err == nil {
		t.Fatal("run() without a drawing should fail")
	}
	if !strings.Contains(stderr.String(), "usage: boq") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRateFlags(t *testing.T) {
	var r rateFlags
	if err := r.Set("2=1,500"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := r.Set("nope"); err == nil {
		t.Error("Set() without '=' should fail")
	}
	if err := r.Set("-1=4"); err == nil {
		t.Error("Set() with a negative index should fail")
	}
	if len(r) != 1 || r[0].index != 2 || r[0].raw != "1,500" {
		t.Errorf("flags = %+v", r)
	}
}
