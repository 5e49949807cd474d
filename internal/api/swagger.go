package api

import (
	_ "embed"
	"net/http"
	"strings"
)

//go:embed openapi.yaml
var openAPISpec string

// SpecHandler serves the OpenAPI YAML spec with {oktaIssuer} replaced by the
// configured issuer so the Swagger UI can authorize against it.
func SpecHandler(oktaIssuer string) http.HandlerFunc {
	spec := strings.ReplaceAll(openAPISpec, "{oktaIssuer}", oktaIssuer)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write([]byte(spec))
	}
}

// SwaggerHandler returns an HTTP handler that serves the Swagger UI. The
// page loads CDN-hosted assets and is configured for PKCE against the same
// Okta issuer the service trusts.
func SwaggerHandler(oktaDomain, clientID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
			scheme = fwd
		}
		oauth2Redirect := scheme + "://" + r.Host + "/docs/oauth2-redirect.html"

		html := strings.NewReplacer(
			"${SPEC_URL}", "/openapi.yaml",
			"${OAUTH2_REDIRECT}", oauth2Redirect,
			"${OKTA_DOMAIN}", oktaDomain,
			"${CLIENT_ID}", clientID,
		).Replace(swaggerHTML)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(html))
	}
}

// OAuthRedirectHandler serves the OAuth2 redirect page used by Swagger UI
func OAuthRedirectHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(oauthRedirectHTML))
}

const swaggerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>Admissions Workflow API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist/swagger-ui-bundle.js"></script>
  <script>
  window.onload = function() {
    const ui = SwaggerUIBundle({
      url: "${SPEC_URL}",
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: "BaseLayout",
      oauth2RedirectUrl: "${OAUTH2_REDIRECT}",
      // you can also set clientId here but we'll init explicitly below
    });
    window.ui = ui;

    // initialize OAuth settings with client id (no secret)
    ui.initOAuth({
      clientId: "${CLIENT_ID}",
      usePkceWithAuthorizationCodeGrant: true,
      // leaving clientSecret unset since PKCE is used
    });

    // hide only the client_id field; secret remains visible but we mark it optional
    const style = document.createElement('style');
    style.textContent =
      "/* Swagger UI modal uses .dialog-ux class for the form */\n" +
      " .dialog-ux input[name=\"client_id\"],\n" +
      " .dialog-ux label[for=\"client_id\"] {\n" +
      "     display: none !important;\n" +
      " }\n";
    document.head.appendChild(style);

    // once the modal appears, prefill client_id and annotate the secret field
    const observer = new MutationObserver(() => {
      const cidInput = document.querySelector('.dialog-ux input[name="client_id"]');
      if (cidInput) {
        cidInput.value = "${CLIENT_ID}";
      }
      const secretInput = document.querySelector('.dialog-ux input[name="client_secret"]');
      if (secretInput) {
        secretInput.placeholder = "optional, PKCE is used, leave blank";
        secretInput.disabled = true;
      }
    });
    observer.observe(document.body, { childList: true, subtree: true });

    const tokenBox = document.createElement('textarea');
    tokenBox.readOnly = true;
    tokenBox.rows = 3;
    tokenBox.style.width = '100%';
    tokenBox.placeholder = 'Bearer token will appear here after authorization';
    const container = document.createElement('div');
    container.style.margin = '10px 0';
    container.appendChild(tokenBox);
    document.body.insertBefore(container, document.getElementById('swagger-ui'));

    // poll for token after auth (Swagger UI stores it internally)
    function updateToken() {
      try {
        const at = ui.authActions && ui.authActions.getAccessToken && ui.authActions.getAccessToken();
        if (at && Object.keys(at).length) {
          // pick first token value
          const val = Object.values(at)[0];
          if (val) {
            tokenBox.value = val;
          }
        }
      } catch (e) {
        // ignore until ui is ready
      }
    }
    // run periodically for a short while
    const interval = setInterval(() => {
      updateToken();
    }, 1000);
    setTimeout(() => clearInterval(interval), 60000);
  }
  </script>
</body>
</html>`

const oauthRedirectHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"/><title>OAuth2 Redirect</title></head>
<body>
<script>
if (window.opener && window.opener.swaggerUIRedirectCallback) {
  window.opener.swaggerUIRedirectCallback(window.location.href);
}
</script>
</body>
</html>`
