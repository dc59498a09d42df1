package driver

// AgentScript is the in-page helper bundle behind the "__agentXxx(...)"
// evaluation convention the reliability fabric, the tool dispatch table,
// and the site-memory reuse bridge rely on. Both concrete adapters
// install it on every new document and re-install it (the IIFE is
// guarded, so this is idempotent) before evaluating any "__agent"-prefixed
// script, covering pages that were already loaded when the agent attached.
//
// The probe works on viewport coordinates, not refs: ref-to-element
// resolution is a driver-native capability, so the fabric resolves the
// ref first and hands the element's center to __agentProbeObstructionAt.
const AgentScript = `(() => {
  if (window.__agentHelpersInstalled) return true;
  window.__agentHelpersInstalled = true;

  const rectOf = (el) => el.getBoundingClientRect();
  const centerOf = (el) => {
    const r = rectOf(el);
    return { x: r.left + r.width / 2, y: r.top + r.height / 2 };
  };
  const isVisible = (el) => {
    const r = rectOf(el);
    if (r.width === 0 || r.height === 0) return false;
    const s = window.getComputedStyle(el);
    return s.display !== 'none' && s.visibility !== 'hidden' && s.opacity !== '0';
  };
  const textOf = (el) => (el.innerText || el.textContent || '').trim();
  const hay = (el) => ((el.id || '') + ' ' +
    (typeof el.className === 'string' ? el.className : '') + ' ' +
    (el.getAttribute ? (el.getAttribute('aria-label') || '') : '')).toLowerCase();

  const findByXPath = (expr) => {
    const res = document.evaluate(expr, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null);
    return res.singleNodeValue;
  };
  const findSelector = (kind, value) => {
    try {
      if (kind === 'text' || kind === 'contains-text' || kind === 'xpath' || value.indexOf('//') === 0) {
        return findByXPath(value);
      }
      return document.querySelector(value);
    } catch (e) {
      return null;
    }
  };

  window.__agentResolveSelector = (kind, value) => {
    const el = findSelector(kind, value);
    if (!el || !isVisible(el)) return null;
    return centerOf(el);
  };

  window.__agentActOnSelector = (kind, value, action, text) => {
    const el = findSelector(kind, value);
    if (!el) return false;
    el.scrollIntoView({ block: 'center', inline: 'center' });
    if (action === 'click') {
      el.click();
      return true;
    }
    if (action === 'hover') {
      const c = centerOf(el);
      for (const type of ['pointerover', 'mouseover', 'mouseenter', 'mousemove']) {
        el.dispatchEvent(new MouseEvent(type, { bubbles: true, clientX: c.x, clientY: c.y }));
      }
      return true;
    }
    if (action === 'type') {
      el.focus();
      const proto = el.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
      const desc = Object.getOwnPropertyDescriptor(proto, 'value');
      if (desc && desc.set) { desc.set.call(el, text); } else { el.value = text; }
      el.dispatchEvent(new Event('input', { bubbles: true }));
      el.dispatchEvent(new Event('change', { bubbles: true }));
      return true;
    }
    return false;
  };

  window.__agentExtractLinks = () =>
    Array.from(document.querySelectorAll('a[href]')).map((a) => ({ text: textOf(a), href: a.href }));

  const describeField = (f) => {
    let label = '';
    if (f.id) {
      const l = document.querySelector('label[for="' + f.id.replace(/"/g, '\\"') + '"]');
      if (l) label = textOf(l);
    }
    if (!label && f.closest) {
      const l = f.closest('label');
      if (l) label = textOf(l);
    }
    return {
      tag: f.tagName.toLowerCase(), type: f.type || '', name: f.name || '', id: f.id || '',
      placeholder: f.placeholder || '', label: label,
      required: !!f.required, disabled: !!f.disabled, value: f.value || '',
    };
  };

  window.__agentExtractInputs = () =>
    Array.from(document.querySelectorAll('input, select, textarea')).map(describeField);

  window.__agentExtractForms = (filter) => {
    const forms = Array.from(document.forms).map((form) => ({
      name: form.getAttribute('name') || '',
      id: form.id || '',
      action: form.getAttribute('action') || '',
      method: (form.method || 'get').toLowerCase(),
      fields: Array.from(form.elements)
        .filter((f) => f.tagName !== 'BUTTON' && f.type !== 'submit')
        .map(describeField),
    }));
    if (!filter) return forms;
    const contactish = /contact|message|enquiry|inquiry|feedback|support/i;
    return forms.filter((form) =>
      contactish.test(form.name + ' ' + form.id + ' ' + form.action) ||
      form.fields.some((f) => f.type === 'email' || contactish.test(f.name + ' ' + f.label)));
  };

  window.__agentExtractTable = () => {
    let best = null;
    for (const t of document.querySelectorAll('table')) {
      if (!best || t.rows.length > best.rows.length) best = t;
    }
    if (!best) return null;
    const headers = Array.from(best.querySelectorAll('th')).map(textOf);
    const rows = [];
    for (const tr of best.querySelectorAll('tr')) {
      const cells = Array.from(tr.querySelectorAll('td')).map(textOf);
      if (cells.length) rows.push(cells);
    }
    return { headers: headers, rows: rows };
  };

  const categoryOf = (el) => {
    const h = hay(el);
    const s = window.getComputedStyle(el);
    const floating = s.position === 'fixed' || s.position === 'sticky' || s.position === 'absolute';
    if (/cookie|consent|gdpr|cmp/.test(h)) return 'cookie-banner';
    if (/age-gate|age-verif|adults-only/.test(h)) return 'age-gate';
    if (el.getAttribute('role') === 'dialog' || el.hasAttribute('aria-modal') ||
        /modal|dialog|popup|overlay|lightbox|interstitial/.test(h)) return 'modal';
    if (/chat|intercom|drift|messenger|livechat|tawk|crisp/.test(h)) return 'chat-widget';
    if (floating && /notification|toast|alert-bar|promo-bar|banner/.test(h)) return 'notification-banner';
    if (floating && (el.tagName === 'HEADER' || /header|navbar|topbar/.test(h))) return 'fixed-header';
    return '';
  };

  window.__agentProbeObstructionAt = (x, y) => {
    let node = document.elementFromPoint(x, y);
    while (node && node !== document.body && node !== document.documentElement) {
      const category = categoryOf(node);
      if (category) {
        const r = rectOf(node);
        const signature = category + ':' + Math.round(r.left) + ',' + Math.round(r.top) + ',' +
          Math.round(r.width) + 'x' + Math.round(r.height);
        return { obstructed: true, category: category, signature: signature };
      }
      node = node.parentElement;
    }
    return { obstructed: false, category: '', signature: '' };
  };

  const dismissText = {
    'cookie-banner': /^(accept( all)?( cookies)?|agree|allow( all)?|got it|ok(ay)?|i understand|continue)$/i,
    'modal': /^(close|dismiss|no,? thanks|not now|maybe later|skip|x|×|✕|✖)$/i,
    'age-gate': /^(yes|enter|confirm|i('| a)?m (over )?(18|21))$/i,
    'chat-widget': /^(close|minimize|hide)$/i,
    'notification-banner': /^(close|dismiss|x|×)$/i,
  };
  const containerHint = {
    'cookie-banner': /cookie|consent|gdpr|cmp/,
    'modal': /modal|dialog|popup|overlay|lightbox|interstitial/,
    'age-gate': /age/,
    'chat-widget': /chat|intercom|drift|messenger|livechat|tawk|crisp/,
    'notification-banner': /notification|toast|alert|banner|promo/,
  };

  window.__agentDismissObstruction = (category) => {
    const hint = containerHint[category];
    const textRe = dismissText[category];
    if (!hint || !textRe) return false;
    const clickables = document.querySelectorAll('button, [role="button"], a, input[type="button"], input[type="submit"]');
    for (const el of clickables) {
      if (!isVisible(el)) continue;
      const t = (textOf(el) || el.getAttribute('aria-label') || el.value || '').trim();
      if (!textRe.test(t)) continue;
      let scope = el;
      let inContainer = false;
      while (scope && scope !== document.body) {
        if (hint.test(hay(scope))) { inContainer = true; break; }
        scope = scope.parentElement;
      }
      if (!inContainer) continue;
      el.click();
      return true;
    }
    if (category === 'chat-widget') {
      for (const el of document.body.children) {
        if (hint.test(hay(el))) { el.style.display = 'none'; return true; }
      }
    }
    return false;
  };

  window.__agentClickSafeBackdrop = () => {
    const x = 2;
    const y = Math.max(2, window.innerHeight - 2);
    const el = document.elementFromPoint(x, y);
    if (!el) return false;
    for (const type of ['pointerdown', 'mousedown', 'pointerup', 'mouseup', 'click']) {
      el.dispatchEvent(new MouseEvent(type, { bubbles: true, clientX: x, clientY: y }));
    }
    return true;
  };

  return true;
})()`
