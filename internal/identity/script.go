package identity

import (
	"encoding/json"
	"fmt"
)

// surfacePayload 注入脚本使用的身份子集。
type surfacePayload struct {
	UserAgent string    `json:"userAgent,omitempty"`
	Screen    Screen    `json:"screen"`
	Navigator Navigator `json:"navigator"`
	WebGL     WebGL     `json:"webgl"`
}

// surfaceScriptTemplate 覆盖可被检测的浏览器表面，在文档创建前执行。
const surfaceScriptTemplate = `(function (fp) {
  const nav = fp.navigator || {};
  const define = (obj, key, getter) => {
    try { Object.defineProperty(obj, key, { get: getter, configurable: true }); } catch (e) {}
  };

  if (fp.userAgent) {
    define(navigator, 'userAgent', () => fp.userAgent);
    define(navigator, 'appVersion', () => fp.userAgent.replace(/^Mozilla\//, ''));
  }
  if (nav.hardwareConcurrency) define(navigator, 'hardwareConcurrency', () => nav.hardwareConcurrency);
  if (nav.deviceMemory) define(navigator, 'deviceMemory', () => nav.deviceMemory);
  if (nav.platform) define(navigator, 'platform', () => nav.platform);
  if (nav.languages && nav.languages.length) {
    define(navigator, 'languages', () => Object.freeze([...nav.languages]));
  }
  define(navigator, 'webdriver', () => undefined);

  const gl = fp.webgl || {};
  if (gl.vendor || gl.renderer) {
    const patch = (proto) => {
      const original = proto.getParameter;
      proto.getParameter = function (param) {
        if (param === 37445) return gl.vendor;
        if (param === 37446) return gl.renderer;
        return original.call(this, param);
      };
    };
    patch(WebGLRenderingContext.prototype);
    if (typeof WebGL2RenderingContext !== 'undefined') patch(WebGL2RenderingContext.prototype);
  }

  const sc = fp.screen || {};
  if (sc.width) {
    define(screen, 'width', () => sc.width);
    define(screen, 'availWidth', () => sc.availWidth || sc.width);
  }
  if (sc.height) {
    define(screen, 'height', () => sc.height);
    define(screen, 'availHeight', () => sc.availHeight || sc.height - 40);
  }
  if (sc.colorDepth) {
    define(screen, 'colorDepth', () => sc.colorDepth);
    define(screen, 'pixelDepth', () => sc.colorDepth);
  }

  define(navigator, 'plugins', () => {
    const plugins = [
      { name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
      { name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', description: '' },
      { name: 'Native Client', filename: 'internal-nacl-plugin', description: '' }
    ];
    plugins.length = 3;
    return plugins;
  });

  const permissions = window.navigator.permissions;
  if (permissions && permissions.query) {
    const originalQuery = permissions.query.bind(permissions);
    permissions.query = (parameters) => {
      if (parameters && parameters.name === 'notifications') {
        return Promise.resolve({ state: Notification.permission });
      }
      return originalQuery(parameters);
    };
  }

  if (!window.chrome) {
    window.chrome = { runtime: {} };
  } else if (!window.chrome.runtime) {
    window.chrome.runtime = {};
  }

  const originalToDataURL = HTMLCanvasElement.prototype.toDataURL;
  HTMLCanvasElement.prototype.toDataURL = function (type) {
    if (type === 'image/png' || type === undefined) {
      const ctx = this.getContext('2d');
      if (ctx && this.width && this.height) {
        const image = ctx.getImageData(0, 0, this.width, this.height);
        for (let i = 0; i < image.data.length; i += 4) {
          image.data[i] = image.data[i] ^ (Math.random() > 0.99 ? 1 : 0);
        }
        ctx.putImageData(image, 0, 0);
      }
    }
    return originalToDataURL.apply(this, arguments);
  };
})(%s);`

// SurfaceScript 生成覆盖浏览器表面特征的脚本。
func SurfaceScript(id *Identity) (string, error) {
	payload, err := json.Marshal(surfacePayload{
		UserAgent: id.UserAgent,
		Screen:    id.Screen,
		Navigator: id.Navigator,
		WebGL:     id.WebGL,
	})
	if err != nil {
		return "", fmt.Errorf("marshal identity payload: %w", err)
	}
	return fmt.Sprintf(surfaceScriptTemplate, payload), nil
}
