// Package pipeline holds the declarative model of analysis pipelines: task
// factories, the tasks they create for a job, ordered task progressions, and
// the registry that resolves them from configuration.
package pipeline

import (
	"fmt"
	"strings"
)

// TaskID identifies a task factory or a pipeline. It is comparable and is
// used directly as a map key.
type TaskID struct {
	Namespace string
	Name      string
}

func NewTaskID(namespace, name string) TaskID {
	return TaskID{Namespace: namespace, Name: name}
}

// ParseTaskID parses "namespace:name". The name may itself contain colons.
func ParseTaskID(s string) (TaskID, error) {
	ns, name, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || ns == "" || name == "" {
		return TaskID{}, fmt.Errorf("%w %q (want namespace:name)", ErrInvalidTaskID, s)
	}
	return TaskID{Namespace: ns, Name: name}, nil
}

// MustParseTaskID is ParseTaskID for literals; it panics on error.
func MustParseTaskID(s string) TaskID {
	id, err := ParseTaskID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id TaskID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.Namespace + ":" + id.Name
}

func (id TaskID) IsZero() bool {
	return id.Namespace == "" && id.Name == ""
}

func (id TaskID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *TaskID) UnmarshalText(b []byte) error {
	parsed, err := ParseTaskID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
