package core

import (
	"time"

	"github.com/JonMunkholm/cadboq/internal/auth"
	"github.com/JonMunkholm/cadboq/internal/boq"
	"github.com/JonMunkholm/cadboq/internal/extract"
)

// Source records how a file was chosen.
type Source string

const (
	SourcePicker Source = "picker"
	SourceDrop   Source = "drop"
)

// ParseSource maps free text to a Source, defaulting to SourcePicker.
func ParseSource(s string) Source {
	if Source(s) == SourceDrop {
		return SourceDrop
	}
	return SourcePicker
}

// Selection is the single file slot. The last selection wins.
type Selection struct {
	Name       string
	Data       []byte
	Source     Source
	SelectedAt time.Time
}

// Size returns the selection size in bytes.
func (s *Selection) Size() int64 {
	if s == nil {
		return 0
	}
	return int64(len(s.Data))
}

// State is everything one session shows. It is a value: Apply returns a new
// State and leaves the receiver alone.
type State struct {
	Selection   *Selection
	Table       boq.Table
	HasData     bool // an upload has succeeded at least once
	Session     *auth.Session
	EmailStatus *extract.EmailStatus
	Busy        bool
	Succeeded   bool
	Err         *UserMessage
	LoginState  string
}

// Msg is a state transition request. See the package documentation for the
// full list.
type Msg interface {
	isMsg()
}

type (
	FileSelected struct {
		Name   string
		Data   []byte
		Source Source
		At     time.Time
	}
	RateEdited struct {
		Index int
		Raw   string
	}
	LoginStarted struct {
		State string
	}
	LoggedIn struct {
		Session *auth.Session
	}
	LoginFailed struct {
		Err error
	}
	LoggedOut       struct{}
	UploadStarted   struct{}
	UploadSucceeded struct {
		Result *extract.Result
	}
	UploadFailed struct {
		Err error
	}
)

func (FileSelected) isMsg()    {}
func (RateEdited) isMsg()      {}
func (LoginStarted) isMsg()    {}
func (LoggedIn) isMsg()        {}
func (LoginFailed) isMsg()     {}
func (LoggedOut) isMsg()       {}
func (UploadStarted) isMsg()   {}
func (UploadSucceeded) isMsg() {}
func (UploadFailed) isMsg()    {}

// Apply computes the state that follows msg. The only error is an
// out-of-range RateEdited, in which case the state is returned unchanged.
func (s State) Apply(msg Msg) (State, error) {
	switch m := msg.(type) {
	case FileSelected:
		s.Selection = &Selection{Name: m.Name, Data: m.Data, Source: m.Source, SelectedAt: m.At}
		s.clearOutcome()

	case RateEdited:
		tbl, err := s.Table.SetRate(m.Index, m.Raw)
		if err != nil {
			return s, err
		}
		s.Table = tbl

	case LoginStarted:
		s.LoginState = m.State

	case LoggedIn:
		s.Session = m.Session
		s.LoginState = ""
		s.Err = nil

	case LoginFailed:
		s.Session = nil
		s.LoginState = ""
		s.Err = userMessage(m.Err)

	case LoggedOut:
		s.Session = nil
		s.EmailStatus = nil

	case UploadStarted:
		s.Busy = true
		s.clearOutcome()

	case UploadSucceeded:
		s.Busy = false
		s.Succeeded = true
		s.HasData = true
		s.Table = s.Table.Ingest(m.Result.Items)
		s.EmailStatus = m.Result.EmailStatus

	case UploadFailed:
		s.Busy = false
		s.Err = userMessage(m.Err)
	}

	return s, nil
}

func (s *State) clearOutcome() {
	s.Err = nil
	s.Succeeded = false
	s.EmailStatus = nil
}

func userMessage(err error) *UserMessage {
	if err == nil {
		return nil
	}
	msg := MapError(err)
	return &msg
}
