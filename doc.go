// Package driftmail provides a Go client for Driftmail, a disposable
// email service for QA and integration testing.
//
// Inboxes are end-to-end encrypted: key material is generated locally
// with ML-KEM-768 and only the public part is sent to the server, so
// email contents are never readable server-side. Registered inboxes are
// watched over a single server-sent event stream that reconnects with
// exponential backoff and re-parameterizes itself when the inbox set
// changes.
//
// Basic usage:
//
//	client, err := driftmail.New("your-auth-token")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Register a disposable inbox
//	inbox, err := client.RegisterInbox(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Send mail to:", inbox.EmailAddress())
//
//	// Watch for incoming email
//	sub, err := client.Subscribe(driftmail.FilterInbox(inbox.ID()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sub.Cancel()
//
//	for {
//	    select {
//	    case ev := <-sub.Events():
//	        if ev.Err != nil {
//	            log.Println("undecryptable event:", ev.Err)
//	            continue
//	        }
//	        fmt.Println("Subject:", ev.Email.Subject)
//	    case <-sub.Done():
//	        return
//	    }
//	}
package driftmail
