// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	mail "gopkg.in/gomail.v2"
)

var (
	alertMailUsr  = os.Getenv("MAIL_USERNAME")
	alertMailPwd  = os.Getenv("MAIL_PASSWORD")
	alertMailSrv  = os.Getenv("MAIL_SERVER")
	alertMailPort = atoi(os.Getenv("MAIL_PORT"))
	alertMailTgts = strings.Split(os.Getenv("MAIL_TGTS"), ",")
)

func atoi(s string) int {
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		log.Printf("could not parse %q: %+v", s, err)
		return 0
	}
	return v
}

func alertMsg(tgts []*target) *mail.Message {
	var failed []string
	for _, tgt := range tgts {
		if tgt.err != nil {
			failed = append(failed, tgt.name)
		}
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", alertMailUsr)
	msg.SetHeader("Bcc", alertMailTgts...)
	msg.SetHeader("Subject", fmt.Sprintf(
		"[hbus-verif] verification failed: %s", strings.Join(failed, ", "),
	))
	msg.SetBody("text/plain", summary(tgts))
	return msg
}

func alertMail(tgts []*target) {
	if alertMailUsr == "" || alertMailPwd == "" ||
		alertMailSrv == "" || alertMailPort == 0 ||
		len(alertMailTgts) == 0 || alertMailTgts[0] == "" {
		log.Printf("could not send mail alert: missing credentials")
		return
	}

	dial := mail.NewDialer(alertMailSrv, alertMailPort, alertMailUsr, alertMailPwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err := dial.DialAndSend(alertMsg(tgts))
	if err != nil {
		log.Printf("could not send mail alert: %+v", err)
	}
}
