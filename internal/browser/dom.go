//go:build js && wasm

// Package browser binds the live client to the page through syscall/js.
package browser

import (
	"fmt"
	"syscall/js"

	"github.com/chatooly/toolbuilder/internal/hotreload"
)

// Document adapts the global document to hotreload.Document.
type Document struct {
	doc    js.Value
	global js.Value
}

var _ hotreload.Document = Document{}

// NewDocument wraps the current page.
func NewDocument() Document {
	return Document{doc: js.Global().Get("document"), global: js.Global()}
}

type script struct{ el js.Value }

func (s script) Src() string { return attr(s.el, "src") }
func (s script) Remove()     { s.el.Call("remove") }

type stylesheet struct{ el js.Value }

func (s stylesheet) Href() string        { return attr(s.el, "href") }
func (s stylesheet) SetHref(href string) { s.el.Call("setAttribute", "href", href) }

// Scripts implements hotreload.Document.
func (d Document) Scripts() []hotreload.Script {
	var out []hotreload.Script
	each(d.doc.Call("querySelectorAll", "script[src]"), func(el js.Value) {
		out = append(out, script{el})
	})
	return out
}

// Stylesheets implements hotreload.Document.
func (d Document) Stylesheets() []hotreload.Stylesheet {
	var out []hotreload.Stylesheet
	each(d.doc.Call("querySelectorAll", `link[rel="stylesheet"][href]`), func(el js.Value) {
		out = append(out, stylesheet{el})
	})
	return out
}

// InsertScriptBefore implements hotreload.Document.
func (d Document) InsertScriptBefore(ref hotreload.Script, src string, onLoad func(), onError func(error)) hotreload.Script {
	el := d.doc.Call("createElement", "script")
	var load, fail js.Func
	release := func() {
		load.Release()
		fail.Release()
	}
	load = js.FuncOf(func(js.Value, []js.Value) any {
		release()
		onLoad()
		return nil
	})
	fail = js.FuncOf(func(js.Value, []js.Value) any {
		release()
		onError(fmt.Errorf("could not load %s", src))
		return nil
	})
	el.Set("onload", load)
	el.Set("onerror", fail)
	el.Set("src", src)

	if old, ok := ref.(script); ok {
		old.el.Get("parentNode").Call("insertBefore", el, old.el)
	} else {
		d.doc.Get("head").Call("appendChild", el)
	}
	return script{el}
}

// CallHook implements hotreload.Document.
func (d Document) CallHook(name string) (found bool, err error) {
	fn := d.global.Get(name)
	if fn.Type() != js.TypeFunction {
		return false, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	fn.Invoke()
	return true, nil
}

// ReloadPage reloads the current page.
func ReloadPage() {
	js.Global().Get("location").Call("reload")
}

func attr(el js.Value, name string) string {
	v := el.Call("getAttribute", name)
	if v.IsNull() || v.IsUndefined() {
		return ""
	}
	return v.String()
}

func each(list js.Value, fn func(js.Value)) {
	n := list.Length()
	for i := 0; i < n; i++ {
		fn(list.Index(i))
	}
}

func byID(id string) js.Value {
	return js.Global().Get("document").Call("getElementById", id)
}

func exists(v js.Value) bool {
	return !v.IsNull() && !v.IsUndefined()
}
