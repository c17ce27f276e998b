package main

import (
	"mscr-notifier/pkg/notifier"
	"slices"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(map[string]string{"PROVIDER_URL": "https://mscr.example.org"})
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Port != "8080" || cfg.Environment != "dev" || cfg.EmailProvider != "mock" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.UpstreamTO != time.Minute || cfg.Concurrency != 8 || cfg.LocalizeStatus {
		t.Errorf("defaults = %+v", cfg)
	}

	s, err := cfg.validate()
	if err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	if !slices.Equal(s.applications, []notifier.Application{notifier.ApplicationDatamodel}) {
		t.Errorf("applications = %v", s.applications)
	}
	if s.at.String() != "07:00" {
		t.Errorf("schedule time = %v", s.at)
	}
}

func TestLoadConfigRequiresProviderURL(t *testing.T) {
	if _, err := loadConfig(map[string]string{}); err == nil {
		t.Error("loadConfig() should fail without PROVIDER_URL")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{name: "upper case application", env: map[string]string{"APPLICATIONS": "DATAMODEL"}},
		{name: "inactive application", env: map[string]string{"APPLICATIONS": "datamodel,codelist"}, wantErr: true},
		{name: "unknown zone", env: map[string]string{"SCHEDULE_ZONE": "Mars/Olympus"}, wantErr: true},
		{name: "bad time", env: map[string]string{"SCHEDULE_TIME": "7am"}, wantErr: true},
		{name: "brevo without key", env: map[string]string{"EMAIL_PROVIDER": "Brevo", "MAIL_FROM": "a@b.c"}, wantErr: true},
		{name: "brevo", env: map[string]string{"EMAIL_PROVIDER": "brevo", "BREVO_API_KEY": "k", "MAIL_FROM": "a@b.c"}},
		{name: "unknown provider", env: map[string]string{"EMAIL_PROVIDER": "smtp"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			environ := map[string]string{"PROVIDER_URL": "https://mscr.example.org"}
			for k, v := range tt.env {
				environ[k] = v
			}
			cfg, err := loadConfig(environ)
			if err != nil {
				t.Fatalf("loadConfig() error = %v", err)
			}
			if _, err := cfg.validate(); (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
