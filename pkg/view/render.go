package view

import (
	"fmt"
	"html/template"
	"io"
)

var fragmentTemplate = template.Must(template.New("fragment").Parse(`<div class="feed" data-status="{{.Status}}">
{{- if eq .Status "initial-loading"}}
  <div class="feed-initial">{{.Message}}</div>
{{- else}}
  <h3>Infinite Scroll Posts ({{.Shown}} of {{.Total}})</h3>
  <table class="feed-table">
    <thead><tr><th>#</th><th>title</th><th>body</th></tr></thead>
    <tbody>
    {{- range .Rows}}
      <tr data-id="{{.ID}}"><td>{{.ID}}</td><td>{{.Title}}</td><td>{{.Body}}</td></tr>
    {{- end}}
    </tbody>
  </table>
  <div id="feed-sentinel" class="feed-sentinel feed-{{.Status}}">
  {{- if eq .Status "failed"}}
    <strong>{{.Message}}</strong>{{with .Error}} <span class="feed-error">{{.}}</span>{{end}}
  {{- else if eq .Status "all-loaded"}}
    <strong>{{.Message}}</strong>
  {{- else}}
    <span>{{.Message}}</span>
  {{- end}}
  </div>
  <div class="feed-progress"><div class="feed-progress-bar" style="width: {{.Percent}}%"></div></div>
  <div class="feed-summary">Showing {{.Shown}} of {{.Total}} posts ({{.Percent}}%)</div>
{{- end}}
</div>
`))

var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Infinite Scroll Posts</title>
<style>
  .feed-table { border-collapse: collapse; width: 100%; }
  .feed-table td, .feed-table th { border: 1px solid #dee2e6; padding: 8px; }
  .feed-sentinel { text-align: center; padding: 30px; margin-top: 20px; color: #6c757d; }
  .feed-progress-bar { height: 6px; background: #007bff; transition: width 0.3s ease; }
</style>
</head>
<body>
<div id="feed" data-session="{{.SessionID}}" data-threshold="{{.Threshold}}"></div>
<script>
(function () {
  var root = document.getElementById("feed");
  var base = "/api/sessions/" + root.dataset.session;
  var threshold = parseFloat(root.dataset.threshold);
  var observer = null;
  var pollTimer = null;
  var renderedStatus = null;
  var lastSent = null;

  function intersects(ratio) {
    return threshold > 0 ? ratio >= threshold : ratio > 0;
  }

  function report(ratio) {
    var visible = intersects(ratio);
    if (visible === lastSent) { return; }
    lastSent = visible;
    fetch(base + "/visibility", {
      method: "POST",
      headers: {"Content-Type": "application/json"},
      body: JSON.stringify({ratio: ratio})
    }).then(function (r) { return r.ok ? r.json() : null; }).then(function (m) {
      if (m && m.status !== renderedStatus) { refresh(); }
    });
  }

  function observe() {
    if (observer) { observer.disconnect(); observer = null; }
    if (renderedStatus === "all-loaded" || renderedStatus === "failed") { return; }
    var sentinel = document.getElementById("feed-sentinel");
    if (!sentinel) { return; }
    observer = new IntersectionObserver(function (entries) {
      report(entries[0].intersectionRatio);
    }, {threshold: [0, threshold]});
    observer.observe(sentinel);
  }

  function refresh() {
    return fetch(base + "/fragment").then(function (r) { return r.text(); }).then(function (html) {
      root.innerHTML = html;
      renderedStatus = root.firstElementChild && root.firstElementChild.dataset.status;
      observe();
      clearTimeout(pollTimer);
      if (renderedStatus === "initial-loading" || renderedStatus === "loading-more") {
        pollTimer = setTimeout(refresh, 250);
      }
    });
  }

  window.addEventListener("pagehide", function () {
    if (observer) { observer.disconnect(); }
    clearTimeout(pollTimer);
    fetch(base, {method: "DELETE", keepalive: true});
  });

  refresh();
})();
</script>
</body>
</html>
`))

// Render writes the feed fragment for m.
func Render(w io.Writer, m Model) error {
	if err := fragmentTemplate.Execute(w, m); err != nil {
		return fmt.Errorf("render fragment: %w", err)
	}
	return nil
}

// RenderPage writes the host page for a mounted session. The page script
// re-observes the sentinel after every render and reports it only when it
// enters or leaves view; the session keeps applying the last report across
// reveals. Terminal states get no observer.
func RenderPage(w io.Writer, sessionID string, threshold float64) error {
	data := struct {
		SessionID string
		Threshold float64
	}{
		SessionID: sessionID,
		Threshold: threshold,
	}
	if err := pageTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	return nil
}
