package wsconn

import "testing"

func TestRequireStringMissingField(t *testing.T) {
	_, err := RequireString(map[string]any{}, "type")
	if err == nil || err.Code != CloseMissingField {
		t.Fatalf("got %v, want MissingField", err)
	}
}

func TestRequireStringWrongType(t *testing.T) {
	_, err := RequireString(map[string]any{"type": 5.0}, "type")
	if err == nil || err.Code != CloseInvalidType {
		t.Fatalf("got %v, want InvalidType", err)
	}
}

func TestRequireStringOK(t *testing.T) {
	v, err := RequireString(map[string]any{"type": "ack"}, "type")
	if err != nil || v != "ack" {
		t.Fatalf("got (%q, %v), want (ack, nil)", v, err)
	}
}

func TestRequireIntMissingField(t *testing.T) {
	_, err := RequireInt(map[string]any{}, "task_id")
	if err == nil || err.Code != CloseMissingField {
		t.Fatalf("got %v, want MissingField", err)
	}
}

func TestRequireIntWrongType(t *testing.T) {
	_, err := RequireInt(map[string]any{"task_id": "nope"}, "task_id")
	if err == nil || err.Code != CloseInvalidType {
		t.Fatalf("got %v, want InvalidType", err)
	}
}

func TestRequireIntNonIntegral(t *testing.T) {
	_, err := RequireInt(map[string]any{"task_id": 1.5}, "task_id")
	if err == nil || err.Code != CloseInvalidValue {
		t.Fatalf("got %v, want InvalidValue", err)
	}
}

func TestRequireIntOK(t *testing.T) {
	v, err := RequireInt(map[string]any{"task_id": 42.0}, "task_id")
	if err != nil || v != 42 {
		t.Fatalf("got (%d, %v), want (42, nil)", v, err)
	}
}
