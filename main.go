package main

import (
	livechat "github.com/shopdesk/livechat/app"
)

func main() {
	app := livechat.New(nil, nil)
	app.Start()
}
