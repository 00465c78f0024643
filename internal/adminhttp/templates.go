package adminhttp

import "html/template"

var loginTemplate = template.Must(template.New("login").Parse(`<!doctype html>
<html><head><title>y2g admin</title></head><body>
<h1>y2g admin</h1>
{{if .Error}}<p style="color:red">{{.Error}}</p>{{end}}
<form method="post" action="/login">
  <label>Username <input type="text" name="username"></label><br>
  <label>Password <input type="password" name="password"></label><br>
  <button type="submit">Sign in</button>
</form>
</body></html>`))

var statusTemplate = template.Must(template.New("status").Parse(`<!doctype html>
<html><head><title>y2g status</title></head><body>
<h1>y2g status</h1>
<form method="post" action="/logout"><button type="submit">Sign out</button></form>

<h2>Messages by state</h2>
<ul>
{{range $state, $count := .StateCounts}}<li>{{$state}}: {{$count}}</li>{{end}}
</ul>

<h2>Recent alerts</h2>
<ul>
{{range .Alerts}}<li>{{.CreatedAt}} [{{.Kind}}] {{.Title}} ({{if .Success}}sent{{else}}failed{{end}})</li>{{end}}
</ul>

<h2>Destination OAuth</h2>
<p><a href="{{.AuthURL}}">Authorize</a></p>
<form method="post" action="/oauth">
  <label>Authorization code <input type="text" name="code"></label>
  <button type="submit">Exchange</button>
</form>
{{if .OAuthMessage}}<p>{{.OAuthMessage}}</p>{{end}}
</body></html>`))
