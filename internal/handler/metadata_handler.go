package handler

import "net/http"

// ProtectedResourceMetadata はOAuth 2.0 Protected Resource Metadata（RFC 9728）。
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
}

// NewProtectedResourceHandler はリソースメタデータを返すハンドラーを生成する。
// クライアントはここからissuerと要求スコープを知る。
func NewProtectedResourceHandler(audience, issuer string, scopes OrderScopes) http.HandlerFunc {
	meta := ProtectedResourceMetadata{
		Resource:               audience,
		AuthorizationServers:   []string{issuer},
		ScopesSupported:        []string{scopes.Read, scopes.Create},
		BearerMethodsSupported: []string{"header"},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		writeJSON(w, http.StatusOK, meta)
	}
}
