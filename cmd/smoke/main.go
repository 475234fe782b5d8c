package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"practicedesk.io/internal/auth"
	"practicedesk.io/internal/document"
	"practicedesk.io/internal/finalise"
	"practicedesk.io/internal/ids"
)

type client struct {
	base  string
	http  *http.Client
	token string
}

func (c client) call(ctx context.Context, method, path string, body, out any) (int, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func main() {
	base := os.Getenv("PRACTICE_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	secret := os.Getenv("PRACTICE_AUTH_SECRET")
	tokens, err := auth.NewTokenService(secret, auth.WithIssuer(os.Getenv("PRACTICE_AUTH_ISSUER")))
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	firmID, businessID := "smoke-firm-"+ids.New(), "smoke-biz-"+ids.New()
	as := func(p auth.Principal) client {
		tok, err := tokens.Issue(p, 5*time.Minute)
		if err != nil {
			log.Fatalf("issue token for %s: %v", p.ID, err)
		}
		return client{base: base, http: &http.Client{Timeout: 5 * time.Second}, token: tok}
	}
	staff := as(auth.Principal{ID: "smoke-staff", TenantGroup: auth.GroupAccountingFirm, Role: auth.RoleStaff, FirmID: firmID})
	partner := as(auth.Principal{ID: "smoke-partner", TenantGroup: auth.GroupAccountingFirm, Role: auth.RolePartner, FirmID: firmID})
	owner := as(auth.Principal{ID: "smoke-client", TenantGroup: auth.GroupBusinessOwner, Role: auth.RoleClient, BusinessID: businessID})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var doc document.Entity
	if code, err := staff.call(ctx, http.MethodPost, "/v1/reports", map[string]string{"client_id": "smoke-c", "business_id": businessID}, &doc); err != nil || code != http.StatusCreated {
		log.Fatalf("create report: code=%d err=%v", code, err)
	}
	path := "/v1/reports/" + doc.ID

	if code, err := staff.call(ctx, http.MethodPost, path+"/finalise", nil, nil); err != nil || code != http.StatusForbidden {
		log.Fatalf("staff finalise: expected 403, code=%d err=%v", code, err)
	}
	if code, err := owner.call(ctx, http.MethodGet, path, nil, nil); err != nil || code != http.StatusNotFound {
		log.Fatalf("client view of draft: expected 404, code=%d err=%v", code, err)
	}
	if code, err := partner.call(ctx, http.MethodPost, path+"/finalise", map[string]string{"note": "smoke"}, &doc); err != nil || code != http.StatusOK || doc.Status != document.StatusFinal {
		log.Fatalf("finalise: code=%d status=%s err=%v", code, doc.Status, err)
	}
	if code, err := partner.call(ctx, http.MethodPost, path+"/share", map[string]bool{"notify_client": true}, &doc); err != nil || code != http.StatusOK || doc.Status != document.StatusSharedWithClient {
		log.Fatalf("share: code=%d status=%s err=%v", code, doc.Status, err)
	}

	var conflict struct {
		Code finalise.Reason `json:"code"`
	}
	if code, err := partner.call(ctx, http.MethodPost, path+"/revoke", map[string]string{"reason": "smoke"}, &conflict); err != nil || code != http.StatusConflict || conflict.Code != finalise.ReasonCannotRevokeShared {
		log.Fatalf("revoke shared: code=%d reason=%s err=%v", code, conflict.Code, err)
	}

	var seen document.Entity
	if code, err := owner.call(ctx, http.MethodGet, path, nil, &seen); err != nil || code != http.StatusOK || seen.ID != doc.ID {
		log.Fatalf("client view of shared report: code=%d err=%v", code, err)
	}

	fmt.Printf("✅ finalisation smoke test passed: report=%s revision=%d\n", doc.ID, doc.Revision)
}
