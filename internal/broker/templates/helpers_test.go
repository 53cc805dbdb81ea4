package templates

import "testing"

func TestRepoTag(t *testing.T) {
	cases := []struct {
		ref  string
		want string
	}{
		{"registry.example.com/brokkr/templates/foo:v3", "v3"},
		{"registry.example.com/brokkr/templates/foo", "latest"},
		{"registry.example.com:5000/brokkr/templates/foo:v1", "v1"},
	}
	for _, c := range cases {
		if got := repoTag(c.ref); got != c.want {
			t.Errorf("repoTag(%q) = %q, want %q", c.ref, got, c.want)
		}
	}
}

func TestTrimOCIScheme(t *testing.T) {
	if got := trimOCIScheme("oci://registry.example.com/foo:v1"); got != "registry.example.com/foo:v1" {
		t.Errorf("unexpected trim result: %q", got)
	}
	if got := trimOCIScheme("registry.example.com/foo:v1"); got != "registry.example.com/foo:v1" {
		t.Errorf("unexpected trim result for ref with no scheme: %q", got)
	}
}
