package version

import (
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	v := Get()
	if v == "" {
		t.Fatal("Get returned an empty version")
	}
	if strings.ContainsAny(v, " \n\t") {
		t.Errorf("version %q contains whitespace", v)
	}
}
