//go:build js && wasm

package browser

import (
	"errors"
	"syscall/js"
)

// File is one entry of a FileList from a file input or a paste event.
type File struct {
	v js.Value
}

func (f File) Name() string      { return f.v.Get("name").String() }
func (f File) MediaType() string { return f.v.Get("type").String() }
func (f File) Size() int64       { return int64(f.v.Get("size").Float()) }

// Read loads the file contents and calls done from the event loop.
func (f File) Read(done func([]byte, error)) {
	var ok, fail js.Func
	release := func() {
		ok.Release()
		fail.Release()
	}
	ok = js.FuncOf(func(_ js.Value, args []js.Value) any {
		defer release()
		buf := js.Global().Get("Uint8Array").New(args[0])
		data := make([]byte, buf.Length())
		js.CopyBytesToGo(data, buf)
		done(data, nil)
		return nil
	})
	fail = js.FuncOf(func(_ js.Value, args []js.Value) any {
		defer release()
		msg := "read failed"
		if len(args) > 0 && exists(args[0]) {
			msg = args[0].Call("toString").String()
		}
		done(nil, errors.New(msg))
		return nil
	})
	f.v.Call("arrayBuffer").Call("then", ok, fail)
}

// InputFiles returns the files selected in a file input and clears it so the
// same file can be picked again.
func InputFiles(input js.Value) []File {
	files := collect(input.Get("files"))
	input.Set("value", "")
	return files
}

// PastedFiles returns the files carried by a paste event.
func PastedFiles(ev js.Value) []File {
	data := ev.Get("clipboardData")
	if !exists(data) {
		return nil
	}
	return collect(data.Get("files"))
}

func collect(list js.Value) []File {
	if !exists(list) {
		return nil
	}
	var out []File
	each(list, func(v js.Value) { out = append(out, File{v}) })
	return out
}
