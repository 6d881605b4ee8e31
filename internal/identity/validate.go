package identity

import "strings"

// Checks 校验各项结果，用于日志输出。
type Checks struct {
	HasScreen    bool
	HasNavigator bool
	HasWebGL     bool
	IsConsistent bool
}

// OK 所有检查都通过。
func (c Checks) OK() bool {
	return c.HasScreen && c.HasNavigator && c.HasWebGL && c.IsConsistent
}

// Validate 检查身份是否完整且系统族一致。
func Validate(id *Identity) bool {
	return Inspect(id).OK()
}

// Inspect 返回逐项校验结果。
//
// 一致性要求：UA 的系统标记、navigator.platform 与 WebGL 厂商指向同一系统族。
func Inspect(id *Identity) Checks {
	if id == nil {
		return Checks{}
	}
	c := Checks{
		HasScreen:    id.Screen.Width > 0 && id.Screen.Height > 0,
		HasNavigator: id.Navigator.HardwareConcurrency > 0,
		HasWebGL:     id.WebGL.Renderer != "",
	}

	fromUA, okUA := OSFromUserAgent(id.UserAgent)
	fromPlatform, okPlatform := OSFromPlatform(id.Navigator.Platform)
	fromGL, okGL := OSFromWebGL(id.WebGL)
	c.IsConsistent = okUA && okPlatform && okGL &&
		fromUA == id.OS && fromPlatform == id.OS && fromGL == id.OS
	return c
}

// OSFromUserAgent 从 UA 字符串推断系统族。
func OSFromUserAgent(ua string) (OS, bool) {
	switch {
	case strings.Contains(ua, "Windows NT"):
		return OSWindows, true
	case strings.Contains(ua, "Macintosh"), strings.Contains(ua, "Mac OS X"):
		return OSMacOS, true
	}
	return "", false
}

// OSFromPlatform 从 navigator.platform 推断系统族。
func OSFromPlatform(platform string) (OS, bool) {
	switch platform {
	case "Win32", "Win64":
		return OSWindows, true
	case "MacIntel":
		return OSMacOS, true
	}
	return "", false
}

// OSFromWebGL 从 WebGL 厂商与渲染器推断系统族。
//
// Windows 下 ANGLE 走 Direct3D 后端，macOS 下为 Apple 的 OpenGL/Metal 后端。
func OSFromWebGL(gl WebGL) (OS, bool) {
	r := gl.Renderer
	switch {
	case strings.Contains(r, "Direct3D"), strings.Contains(r, "D3D11"):
		return OSWindows, true
	case strings.Contains(gl.Vendor, "Apple"), strings.Contains(r, "Apple"), strings.Contains(r, "Metal"):
		return OSMacOS, true
	}
	return "", false
}
