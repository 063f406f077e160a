package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reset-service/internal/config"
)

func smsConfig(baseURL string) *config.Config {
	return &config.Config{
		SMS: config.SMSConfig{
			AccountSID:   "ACtest",
			AuthToken:    "token",
			FromNumber:   "+15005550006",
			APIBaseURL:   baseURL,
			BodyTemplate: "Your ALPEN STORE password reset code is: %s. This code expires in 10 minutes.",
			Timeout:      5 * time.Second,
		},
	}
}

func TestSendCode_PostsTwilioForm(t *testing.T) {
	var gotPath, gotTo, gotFrom, gotBody, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseForm())
		gotTo = r.PostFormValue("To")
		gotFrom = r.PostFormValue("From")
		gotBody = r.PostFormValue("Body")
		gotUser, _, _ = r.BasicAuth()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := NewSMSClient(smsConfig(srv.URL))
	require.NoError(t, err)

	require.NoError(t, c.SendCode(context.Background(), "+2348012345678", "482913"))
	require.Equal(t, "/2010-04-01/Accounts/ACtest/Messages.json", gotPath)
	require.Equal(t, "+2348012345678", gotTo)
	require.Equal(t, "+15005550006", gotFrom)
	require.Equal(t, "Your ALPEN STORE password reset code is: 482913. This code expires in 10 minutes.", gotBody)
	require.Equal(t, "ACtest", gotUser)
}

func TestSendCode_NonSuccessStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code": 21211}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewSMSClient(smsConfig(srv.URL))
	require.NoError(t, err)

	err = c.SendCode(context.Background(), "+2348012345678", "482913")
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 400")
}

func TestNewSMSClient_RequiresCredentials(t *testing.T) {
	cfg := smsConfig("http://localhost")
	cfg.SMS.AuthToken = ""

	_, err := NewSMSClient(cfg)
	require.Error(t, err)
}
