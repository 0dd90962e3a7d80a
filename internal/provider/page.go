package provider

// ceremonyPage is the browser side of a FIDO2 ceremony. The {{MODE}} marker
// is replaced with "register" or "authenticate". The page talks WebAuthn to
// the authenticator and posts the results back to the loopback listener; all
// binary fields cross the wire as base64url.
const ceremonyPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>vhsm security key</title>
<style>
  body { font-family: system-ui, sans-serif; max-width: 40em; margin: 4em auto; }
  #status { font-size: 1.2em; }
</style>
</head>
<body>
<h1>vhsm</h1>
<p id="status">Waiting for your security key&hellip; touch it when it blinks.</p>
<script>
"use strict";

const mode = "{{MODE}}";

function b64uToBuf(s) {
  s = s.replace(/-/g, "+").replace(/_/g, "/");
  while (s.length % 4 !== 0) s += "=";
  const bin = atob(s);
  const buf = new Uint8Array(bin.length);
  for (let i = 0; i < bin.length; i++) buf[i] = bin.charCodeAt(i);
  return buf.buffer;
}

function bufToB64u(buf) {
  const bytes = new Uint8Array(buf);
  let bin = "";
  for (let i = 0; i < bytes.length; i++) bin += String.fromCharCode(bytes[i]);
  return btoa(bin).replace(/\+/g, "-").replace(/\//g, "_").replace(/=+$/, "");
}

function decodePrfEval(ext) {
  if (ext && ext.prf && ext.prf.eval && typeof ext.prf.eval.first === "string") {
    ext.prf.eval.first = b64uToBuf(ext.prf.eval.first);
  }
  return ext;
}

function done(msg) {
  document.getElementById("status").textContent = msg;
}

async function post(path, body) {
  const resp = await fetch(path, {
    method: "POST",
    headers: { "Content-Type": "application/json" },
    body: JSON.stringify(body),
  });
  if (!resp.ok) throw new Error("listener rejected the response");
  return resp.json();
}

async function reportError(err) {
  try {
    await post("/error", { message: String(err && err.message || err) });
  } catch (ignored) {}
  done("Ceremony failed: " + (err && err.message || err));
}

async function assert(options) {
  const pk = options.publicKey;
  pk.challenge = b64uToBuf(pk.challenge);
  if (pk.allowCredentials) {
    for (const cred of pk.allowCredentials) cred.id = b64uToBuf(cred.id);
  }
  pk.extensions = decodePrfEval(pk.extensions);

  const cred = await navigator.credentials.get({ publicKey: pk });
  const ext = cred.getClientExtensionResults();
  const prf = {};
  if (ext.prf && ext.prf.results && ext.prf.results.first) {
    prf.results = { first: bufToB64u(ext.prf.results.first) };
  }

  await post("/assert", {
    id: cred.id,
    rawId: bufToB64u(cred.rawId),
    type: cred.type,
    clientExtensionResults: { prf: prf },
    response: {
      clientDataJSON: bufToB64u(cred.response.clientDataJSON),
      authenticatorData: bufToB64u(cred.response.authenticatorData),
      signature: bufToB64u(cred.response.signature),
      userHandle: cred.response.userHandle ? bufToB64u(cred.response.userHandle) : null,
    },
  });
  done("Done. You can close this tab.");
}

async function register(options) {
  const pk = options.publicKey;
  pk.challenge = b64uToBuf(pk.challenge);
  pk.user.id = b64uToBuf(pk.user.id);
  if (pk.excludeCredentials) {
    for (const cred of pk.excludeCredentials) cred.id = b64uToBuf(cred.id);
  }
  pk.extensions = decodePrfEval(pk.extensions);

  const cred = await navigator.credentials.create({ publicKey: pk });
  const assertOptions = await post("/create", {
    id: cred.id,
    rawId: bufToB64u(cred.rawId),
    type: cred.type,
    clientExtensionResults: cred.getClientExtensionResults(),
    response: {
      clientDataJSON: bufToB64u(cred.response.clientDataJSON),
      attestationObject: bufToB64u(cred.response.attestationObject),
    },
  });
  done("Credential created. Touch your key once more to finish.");
  await assert(assertOptions);
}

(async () => {
  try {
    if (!navigator.credentials || !navigator.credentials.create) {
      throw new Error("this browser does not support WebAuthn");
    }
    const options = await (await fetch("/options")).json();
    if (mode === "register") {
      await register(options);
    } else {
      await assert(options);
    }
  } catch (err) {
    await reportError(err);
  }
})();
</script>
</body>
</html>
`
