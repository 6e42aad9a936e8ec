package config

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name:    "valid config",
			content: "ai:\n  reviewer: claude\n  reviewee: codex\n  max_iterations: 5\n",
			check: func(t *testing.T, c *Config) {
				if c.AI.Reviewer != AgentClaude {
					t.Errorf("Reviewer = %v, want %v", c.AI.Reviewer, AgentClaude)
				}
				if c.AI.Reviewee != AgentCodex {
					t.Errorf("Reviewee = %v, want %v", c.AI.Reviewee, AgentCodex)
				}
				if c.AI.MaxIterations != 5 {
					t.Errorf("MaxIterations = %d, want 5", c.AI.MaxIterations)
				}
			},
		},
		{
			name:    "empty config fills defaults",
			content: "",
			check: func(t *testing.T, c *Config) {
				if c.AI.Reviewer != AgentClaude {
					t.Errorf("Reviewer = %v, want default %v", c.AI.Reviewer, AgentClaude)
				}
				if c.AI.MaxIterations != DefaultMaxIterations {
					t.Errorf("MaxIterations = %d, want default %d", c.AI.MaxIterations, DefaultMaxIterations)
				}
				if c.AI.TimeoutSecs != DefaultTimeoutSecs {
					t.Errorf("TimeoutSecs = %d, want default %d", c.AI.TimeoutSecs, DefaultTimeoutSecs)
				}
			},
		},
		{
			name:    "invalid reviewer",
			content: "ai:\n  reviewer: gpt5\n",
			wantErr: true,
		},
		{
			name:    "negative max_iterations",
			content: "ai:\n  max_iterations: -1\n",
			wantErr: true,
		},
		{
			name:    "additional tools pass through",
			content: "ai:\n  reviewer_additional_tools: [\"Bash(git log:*)\"]\n",
			check: func(t *testing.T, c *Config) {
				if len(c.AI.ReviewerAdditionalTools) != 1 || c.AI.ReviewerAdditionalTools[0] != "Bash(git log:*)" {
					t.Errorf("ReviewerAdditionalTools = %v", c.AI.ReviewerAdditionalTools)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.content))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() unexpected error: %v", err)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.AI.Reviewer != AgentClaude {
		t.Errorf("Reviewer = %v, want default %v", cfg.AI.Reviewer, AgentClaude)
	}
}
