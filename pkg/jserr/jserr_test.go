package jserr

import (
	"errors"
	"testing"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		want bool
	}{
		{"direct match", New(NotFound, "missing"), NotFound, true},
		{"direct mismatch", New(NotFound, "missing"), StaleToken, false},
		{"wrapped cause", Wrap(LoadFailed, New(CryptFailed, "bad tag"), "load shard"), LoadFailed, true},
		{"wrapped cause transitive", Wrap(LoadFailed, New(CryptFailed, "bad tag"), "load shard"), CryptFailed, true},
		{"plain error never matches", errors.New("boom"), Unknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.kind); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(New(AlreadyExists, "dup")) != AlreadyExists {
		t.Error("expected AlreadyExists")
	}
	if KindOf(errors.New("plain")) != Unknown {
		t.Error("expected Unknown for non-jserr error")
	}
}

func TestHintStable(t *testing.T) {
	if NotFound.Hint() != 201 {
		t.Errorf("NotFound hint = %d, want 201", NotFound.Hint())
	}
	if StaleToken.Hint() != 242 || NoToken.Hint() != 242 {
		t.Error("StaleToken/NoToken must share hint 242")
	}
}
