package server

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/onnwee/clip-relay/backend/twitchapi"
)

// The page embeds Twitch's clip player and overlays the clip metadata. A
// small inline script (nonce-gated by CSP) watches the player for the
// content warning interstitial and reports it to the API.
var pageTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>clip-relay</title>
<link rel="stylesheet" href="/index.css">
</head>
<body>
{{if .Clip}}
<div id="player">
  <iframe src="{{.Clip.EmbedURL}}&parent=localhost&autoplay=true&muted=false"
          allow="autoplay" allowfullscreen></iframe>
  <div id="overlay">
    <span id="title">{{.Clip.Title}}</span>
    <span id="meta">{{.Clip.BroadcasterName}}{{if .Clip.GameID}} &middot; {{.Clip.GameID}}{{end}} &middot; clipped by {{.Clip.CreatorName}}</span>
  </div>
</div>
<script nonce="{{.Nonce}}">
(function () {
  var reported = false;
  function report(method) {
    if (reported) return;
    reported = true;
    fetch('/api/content-warning', {
      method: 'POST',
      headers: {'Content-Type': 'application/json'},
      body: JSON.stringify({detectionMethod: method, timestamp: new Date().toISOString()})
    }).catch(function () {});
  }
  var frame = document.querySelector('#player iframe');
  if (frame) {
    frame.addEventListener('load', function () {
      // Cross-origin frames hide their DOM; a stalled load is the only
      // observable symptom of the warning interstitial.
      setTimeout(function () { report('load-timeout-heuristic'); }, 8000);
    });
  }
})();
</script>
{{else}}
<div id="blank"></div>
{{end}}
</body>
</html>
`))

const pageCSS = `html, body {
	margin: 0;
	padding: 0;
	width: 100%;
	height: 100%;
	background: transparent;
	overflow: hidden;
}
#player, #player iframe {
	width: 100%;
	height: 100%;
	border: 0;
}
#overlay {
	position: absolute;
	left: 16px;
	bottom: 16px;
	padding: 8px 14px;
	background: rgba(0, 0, 0, 0.72);
	color: #fff;
	font-family: sans-serif;
	border-radius: 6px;
	display: flex;
	flex-direction: column;
	gap: 2px;
}
#title { font-size: 18px; font-weight: 600; }
#meta { font-size: 13px; opacity: 0.85; }
#blank { width: 100%; height: 100%; }
`

func newNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(buf), nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	nonce, err := newNonce()
	if err != nil {
		slog.Error("nonce generation failed", slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// The browser source must never serve a stale clip page.
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Content-Security-Policy", fmt.Sprintf(
		"default-src 'self'; frame-src https://clips.twitch.tv; script-src 'nonce-%s' 'strict-dynamic'; style-src 'self'; connect-src 'self'",
		nonce))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	data := struct {
		Clip  *twitchapi.Clip
		Nonce string
	}{Clip: s.currentClip(), Nonce: nonce}
	if err := pageTmpl.Execute(w, data); err != nil {
		slog.Error("render embed page", slog.Any("error", err))
	}
}

func (s *Server) handleCSS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	fmt.Fprint(w, pageCSS)
}
