package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sprinklerd/sprinklerd/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>sprinklerd</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>sprinklerd<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Stations</h2>
<table id="stations">
<tr><th>SID</th><th>Running</th><th>Program</th><th>Ends</th></tr>
{{range .Stations}}<tr><td>{{.SID}}</td><td class="{{if .Running}}on{{else}}off{{end}}">{{if .Running}}ON{{else}}off{{end}}</td><td>{{.PID}}</td><td>{{.EndTime}}</td></tr>
{{end}}</table>

<h2>Controller</h2>
<table>
<tr><th>Program busy</th><td>{{if .ProgramBusy}}yes{{else}}no{{end}}</td></tr>
<tr><th>Paused</th><td>{{if .Paused}}yes ({{.PauseTimer}}s left){{else}}no{{end}}</td></tr>
<tr><th>Rain delay</th><td>{{if .RainDelayed}}active{{else}}off{{end}}</td></tr>
<tr><th>Sensor 1</th><td>{{if .Sensor1Active}}active{{else}}idle{{end}}</td></tr>
<tr><th>Sensor 2</th><td>{{if .Sensor2Active}}active{{else}}idle{{end}}</td></tr>
<tr><th>Water percent</th><td>{{.WaterPercent}}%</td></tr>
<tr><th>Flow rate</th><td>{{.InstantGPM}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Notifier</th><td class="{{if .NotifierUp}}connected{{else}}disconnected{{end}}">{{if .NotifierUp}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.MQTTBroker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}} — {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Stations</th><td>{{.Config.NStations}}</td></tr>
<tr><th>Station delay</th><td>{{.Config.StationDelayS}}s</td></tr>
<tr><th>Logging</th><td>{{if .Config.LoggingEnabled}}enabled{{else}}disabled{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function setDot(cls, title) { dot.className = "live-dot " + cls; dot.title = title; }

  function connect() {
    var proto = location.protocol === "https:" ? "wss:" : "ws:";
    var ws = new WebSocket(proto + "//" + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() { setDot("err", "disconnected"); setTimeout(connect, 3000); };
    ws.onerror = function() { setDot("err", "error"); };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data).status;
        var rows = document.querySelectorAll("#stations tr");
        msg.stations.forEach(function(st, i) {
          var row = rows[i + 1];
          if (!row) return;
          var cells = row.querySelectorAll("td");
          cells[1].textContent = st.running ? "ON" : "off";
          cells[1].className = st.running ? "on" : "off";
          cells[2].textContent = st.pid || "";
          cells[3].textContent = st.end_time || "";
        });
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
