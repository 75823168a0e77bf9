package web

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const pageTemplate = `<!doctype html>
<html>
	<head>
		<title>bsky post cleaner</title>
		<meta name="viewport" content="width=device-width, initial-scale=1" />
		<style>
			body { font-family: sans-serif; }
			main { max-width: 42rem; margin: 0 auto; padding: 1rem; }
			input { width: 100%%; padding: 0.5rem; box-sizing: border-box; }
			#toasts { position: fixed; top: 1rem; right: 1rem; }
			.toast { padding: 0.5rem 1rem; margin-bottom: 0.5rem; border-radius: 0.25rem; color: white; }
			.success { background: #047857; }
			.error { background: #b91c1c; }
		</style>
	</head>
	<body>
		<main>
			<p id="actor"></p>
			<form id="clean">
				<input type="text" name="url" placeholder="https://bsky.app/profile/you.bsky.social/post/..." />
				<button type="submit">Delete</button>
			</form>
		</main>
		<div id="toasts"></div>
		<script>
			const {handle, did} = %s;
			document.getElementById('actor').textContent = handle ? '@' + handle : did;

			const toast = (text, ok) => {
				const el = document.createElement('div');
				el.className = 'toast ' + (ok ? 'success' : 'error');
				el.textContent = text;
				document.getElementById('toasts').appendChild(el);
				setTimeout(() => el.remove(), 4000);
			};

			const form = document.getElementById('clean');
			form.addEventListener('submit', async (e) => {
				e.preventDefault();
				const button = form.querySelector('button');
				button.disabled = true;
				try {
					const res = await fetch('/api/clean', {
						method: 'POST',
						headers: {'Content-Type': 'application/json'},
						body: JSON.stringify({url: form.url.value}),
					});
					const body = await res.json();
					toast(body.message || body.error, res.ok);
				} catch (err) {
					console.error(err);
					toast('An error occurred', false);
				} finally {
					button.disabled = false;
				}
			});
		</script>
	</body>
</html>
`

func (server *Server) indexPage(w http.ResponseWriter, r *http.Request) {
	actor := server.actors.Actor()
	jsonData, err := json.Marshal(sessionResponse{Handle: actor.Handle, DID: actor.DID})
	if err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(fmt.Sprintf("%s", err)))
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(fmt.Sprintf(pageTemplate, string(jsonData))))
}
