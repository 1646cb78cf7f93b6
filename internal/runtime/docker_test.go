package runtime

import (
	"errors"
	"testing"

	"github.com/krinkuto11/ace-orchestrator/internal/orcherr"
)

func TestBuildPortBindingsMapsEachEntry(t *testing.T) {
	portSet, portMap := buildPortBindings(map[string]int{
		"40000/tcp": 19000,
		"45000/tcp": 19001,
	})
	if len(portSet) != 2 || len(portMap) != 2 {
		t.Fatalf("expected 2 entries, got portSet=%d portMap=%d", len(portSet), len(portMap))
	}
	bindings := portMap["40000/tcp"]
	if len(bindings) != 1 || bindings[0].HostPort != "19000" {
		t.Fatalf("unexpected binding for 40000/tcp: %+v", bindings)
	}
}

func TestClassifyErrTransientOnTimeout(t *testing.T) {
	err := classifyErr(errors.New("context deadline exceeded: timeout"))
	var transient *orcherr.RuntimeTransient
	if !errors.As(err, &transient) {
		t.Fatalf("expected RuntimeTransient, got %T", err)
	}
}

func TestClassifyErrFatalByDefault(t *testing.T) {
	err := classifyErr(errors.New("invalid container spec"))
	var fatal *orcherr.RuntimeFatal
	if !errors.As(err, &fatal) {
		t.Fatalf("expected RuntimeFatal, got %T", err)
	}
}

func TestClassifyErrNilIsNil(t *testing.T) {
	if classifyErr(nil) != nil {
		t.Fatal("expected nil passthrough")
	}
}
