package argateway

func (s *Gateway) runJobs() {
	s.scheduler.Every(30).Seconds().SingletonMode().Do(s.jobTrackChain)
	s.scheduler.Every(10).Minute().SingletonMode().Do(s.jobUpdatePeers)

	s.scheduler.StartAsync()
}

func (s *Gateway) jobTrackChain() {
	if err := s.TrackChain(); err != nil {
		log.Error("track chain failed", "err", err)
	}
}

func (s *Gateway) jobUpdatePeers() {
	if err := s.peerCli.RefreshPeers(); err != nil {
		log.Warn("refresh peers failed", "err", err)
	}
}
