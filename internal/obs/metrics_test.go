package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                    "/",
		"/metrics":                            "/metrics",
		"/v1/reports":                         "/v1/reports",
		"/v1/reports/abc":                     "/v1/reports/:id",
		"/v1/deliverables/abc/finalise":       "/v1/deliverables/:id/finalise",
		"/v1/reports/abc/share?x=1":           "/v1/reports/:id/share",
		"/v1/reports/abc/extra":               "/v1/reports/abc/extra",
		"/v1/invoices/abc":                    "/v1/invoices/abc",
		"/v1/deliverables?client_id=c1":       "/v1/deliverables",
		"/v1/deliverables/abc/revoke/further": "/v1/deliverables/abc/revoke/further",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
