package ux

import (
	"testing"
)

func TestShouldPromptDisabledInCI(t *testing.T) {
	for _, env := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"} {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, "1")
			if ShouldPrompt() {
				t.Errorf("ShouldPrompt() = true with %s set", env)
			}
		})
	}
}

func TestSelectRequiresOptions(t *testing.T) {
	if _, err := Select("pick", nil); err == nil {
		t.Error("Select() with no options should fail")
	}
}
