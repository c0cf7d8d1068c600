package server

// DashboardHTML is the single-page dashboard. It polls /api/status and
// shows auto-log events pushed over /ws.
const DashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Spotwalk</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, monospace;
    background: #0d1117; color: #c9d1d9; padding: 20px;
  }
  h1 { color: #58a6ff; margin-bottom: 4px; font-size: 1.5em; }
  .subtitle { color: #8b949e; margin-bottom: 20px; font-size: 0.9em; }
  .stats {
    display: grid; grid-template-columns: repeat(auto-fit, minmax(140px, 1fr));
    gap: 12px; margin-bottom: 20px;
  }
  .stat-card {
    background: #161b22; border: 1px solid #30363d; border-radius: 6px;
    padding: 16px; text-align: center;
  }
  .stat-number { font-size: 1.8em; font-weight: 700; color: #58a6ff; }
  .stat-number.ok { color: #3fb950; }
  .stat-number.bad { color: #f85149; }
  .stat-number.wait { color: #d29922; }
  .stat-label { font-size: 0.8em; color: #8b949e; margin-top: 4px; }
  .panel {
    background: #161b22; border: 1px solid #30363d; border-radius: 6px;
    max-height: 500px; overflow-y: auto;
  }
  .panel-header {
    padding: 12px 16px; border-bottom: 1px solid #30363d;
    font-weight: 600; color: #58a6ff; position: sticky; top: 0; background: #161b22;
  }
  .row {
    display: grid; grid-template-columns: 120px 90px 110px 1fr;
    padding: 8px 16px; border-bottom: 1px solid #21262d; font-size: 0.85em;
  }
  .badge { padding: 2px 8px; border-radius: 12px; font-size: 0.75em; font-weight: 600; }
  .badge.ok { background: #23312e; color: #3fb950; }
  .badge.bad { background: #3d1f20; color: #f85149; }
  .muted { color: #8b949e; }
</style>
</head>
<body>
<h1>Spotwalk</h1>
<p class="subtitle">Auto-log session <span id="conn" class="muted">disconnected</span></p>

<div class="stats">
  <div class="stat-card"><div class="stat-number" id="s-targets">0</div><div class="stat-label">Spots</div></div>
  <div class="stat-card"><div class="stat-number" id="s-attempts">0</div><div class="stat-label">Attempts</div></div>
  <div class="stat-card"><div class="stat-number ok" id="s-ok">0</div><div class="stat-label">Logged</div></div>
  <div class="stat-card"><div class="stat-number wait" id="s-rl">0</div><div class="stat-label">Rate limited</div></div>
  <div class="stat-card"><div class="stat-number bad" id="s-fail">0</div><div class="stat-label">Failed</div></div>
  <div class="stat-card"><div class="stat-number" id="s-pos">-</div><div class="stat-label">Position</div></div>
</div>

<div class="panel">
  <div class="panel-header">Events</div>
  <div id="events"><div class="row muted">Waiting for auto-log events...</div></div>
</div>

<script>
const eventsDiv = document.getElementById('events');
const MAX_EVENTS = 200;
let empty = true;

function set(id, v) { document.getElementById(id).textContent = v; }

async function poll() {
  try {
    const st = await (await fetch('/api/status')).json();
    set('s-targets', st.targets);
    if (st.controller) {
      set('s-attempts', st.controller.attempts);
      set('s-ok', st.controller.successes);
      set('s-rl', st.controller.rate_limited);
      set('s-fail', st.controller.failures);
    }
    if (st.position) set('s-pos', st.position.latitude.toFixed(5) + ', ' + st.position.longitude.toFixed(5));
  } catch (e) {}
}

function addEvent(ev) {
  if (empty) { eventsDiv.innerHTML = ''; empty = false; }
  const row = document.createElement('div');
  row.className = 'row';
  const time = new Date(ev.time).toLocaleTimeString('en-US', {hour12: false});
  const ok = ev.type === 'log_succeeded';
  const detail = ok
    ? (ev.reward ? '+' + ev.reward.xp_gained + ' XP, +' + ev.reward.claim_points + ' claims' : 'logged')
    : ev.reason;
  row.innerHTML =
    '<span class="muted">' + time + '</span>' +
    '<span>' + (ok ? '<span class="badge ok">LOGGED</span>' : '<span class="badge bad">FAILED</span>') + '</span>' +
    '<span>spot ' + escHtml(ev.target_id) + '</span>' +
    '<span>' + escHtml(detail || '') + '</span>';
  eventsDiv.insertBefore(row, eventsDiv.firstChild);
  while (eventsDiv.children.length > MAX_EVENTS) eventsDiv.removeChild(eventsDiv.lastChild);
}

function connect() {
  const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
  const ws = new WebSocket(proto + '//' + location.host + '/ws');
  ws.onopen = () => set('conn', 'connected');
  ws.onclose = () => { set('conn', 'disconnected'); setTimeout(connect, 2000); };
  ws.onmessage = (e) => {
    const msg = JSON.parse(e.data);
    if (msg.kind === 'event') { addEvent(msg.data); poll(); }
  };
}

function escHtml(s) {
  const d = document.createElement('div');
  d.textContent = s;
  return d.innerHTML;
}

fetch('/api/events?limit=50').then(r => r.json()).then(evs => evs.forEach(addEvent)).catch(() => {});
poll();
setInterval(poll, 2000);
connect();
</script>
</body>
</html>`
