package destination

import (
	"errors"
	"testing"

	"google.golang.org/api/googleapi"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name           string
		err            error
		wantRetryable  bool
		wantOAuthAlert bool
	}{
		{"nil", nil, false, false},
		{"429", &googleapi.Error{Code: 429}, true, false},
		{"500", &googleapi.Error{Code: 500}, true, false},
		{"503", &googleapi.Error{Code: 503}, true, false},
		{"401", &googleapi.Error{Code: 401}, true, true},
		{"403", &googleapi.Error{Code: 403}, true, true},
		{"400", &googleapi.Error{Code: 400}, false, false},
		{"404", &googleapi.Error{Code: 404}, false, false},
		{"transport error", errors.New("connection reset"), true, false},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(c.err)
			if got.Retryable != c.wantRetryable {
				t.Errorf("Retryable = %v, want %v", got.Retryable, c.wantRetryable)
			}
			if got.OAuthAlert != c.wantOAuthAlert {
				t.Errorf("OAuthAlert = %v, want %v", got.OAuthAlert, c.wantOAuthAlert)
			}
		})
	}
}
