//go:build !govips || !cgo

package transform

func Startup() error {
	return nil
}

func Shutdown() {}

func primaryStrategies() []Strategy {
	return []Strategy{ImagingStrategy{}}
}
