package practice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/michaelbrown/algoprep/internal/storage"
	"github.com/michaelbrown/algoprep/internal/task"
	"github.com/michaelbrown/algoprep/internal/verdict"
)

// Command is an input from the front end.
type Command interface {
	command()
}

// Commands accepted by Dispatch.
type (
	RunRequested    struct{}
	CancelRequested struct{}
	TestAdded       struct{ Case *task.TestCase }
	TestRemoved     struct{ ID string }
	TestUpdated     struct {
		ID   string
		Case task.TestCase
	}
	CodeChanged     struct{ Code string }
	SettingsChanged struct{ Settings Settings }
	SaveRequested   struct{ Force bool }
)

func (RunRequested) command()    {}
func (CancelRequested) command() {}
func (TestAdded) command()       {}
func (TestRemoved) command()     {}
func (TestUpdated) command()     {}
func (CodeChanged) command()     {}
func (SettingsChanged) command() {}
func (SaveRequested) command()   {}

// Dispatch applies cmd. RunRequested blocks until the batch ends, so a
// front end that wants to cancel must dispatch it from another goroutine.
func (s *Session) Dispatch(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case RunRequested:
		_, err := s.Run(ctx)
		return err
	case CancelRequested:
		s.Cancel()
		return nil
	case TestAdded:
		s.AddTest(c.Case)
		return nil
	case TestRemoved:
		return s.RemoveTest(c.ID)
	case TestUpdated:
		return s.UpdateTest(c.ID, c.Case)
	case CodeChanged:
		s.SetCode(c.Code)
		return nil
	case SettingsChanged:
		s.ApplySettings(c.Settings)
		return nil
	case SaveRequested:
		res, err := s.Save(ctx, c.Force)
		if err == nil {
			s.emit(Event{Kind: EventSaved, Sync: &res})
		}
		return err
	default:
		return fmt.Errorf("unsupported command %T", cmd)
	}
}

// EventKind names an event.
type EventKind string

const (
	EventStatus      EventKind = "status"
	EventTestResult  EventKind = "test_result"
	EventRunFinished EventKind = "run_finished"
	EventState       EventKind = "state"
	EventSaved       EventKind = "saved"
)

// Event is an output to the front end. Which fields are set depends on Kind.
type Event struct {
	Kind   EventKind           `json:"type"`
	Status string              `json:"status,omitempty"`
	Index  int                 `json:"index"`
	Test   *Test               `json:"test,omitempty"`
	Report *verdict.Report     `json:"report,omitempty"`
	State  *Snapshot           `json:"state,omitempty"`
	Sync   *storage.SyncResult `json:"sync,omitempty"`
}

// wireCommand is the JSON form of a command.
type wireCommand struct {
	Type     string         `json:"type"`
	ID       string         `json:"id,omitempty"`
	Case     *task.TestCase `json:"case,omitempty"`
	Code     *string        `json:"code,omitempty"`
	Settings *Settings      `json:"settings,omitempty"`
	Force    bool           `json:"force,omitempty"`
}

// DecodeCommand parses the JSON form of a command, for example
// {"type":"code_changed","code":"..."}.
func DecodeCommand(data []byte) (Command, error) {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decoding command: %w", err)
	}
	switch w.Type {
	case "run":
		return RunRequested{}, nil
	case "cancel":
		return CancelRequested{}, nil
	case "test_added":
		return TestAdded{Case: w.Case}, nil
	case "test_removed":
		return TestRemoved{ID: w.ID}, nil
	case "test_updated":
		if w.Case == nil {
			return nil, errors.New("test_updated needs a case")
		}
		return TestUpdated{ID: w.ID, Case: *w.Case}, nil
	case "code_changed":
		if w.Code == nil {
			return nil, errors.New("code_changed needs code")
		}
		return CodeChanged{Code: *w.Code}, nil
	case "settings_changed":
		if w.Settings == nil {
			return nil, errors.New("settings_changed needs settings")
		}
		return SettingsChanged{Settings: *w.Settings}, nil
	case "save":
		return SaveRequested{Force: w.Force}, nil
	default:
		return nil, fmt.Errorf("unknown command type %q", w.Type)
	}
}
